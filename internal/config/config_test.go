package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "127.0.0.1:5432", cfg.Listen)

	pages, err := cfg.PoolPages()
	require.NoError(t, err)
	assert.Equal(t, 1024, pages) // 8MB / 8KiB

	seg, err := cfg.WALSegmentBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), seg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minipg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":15432"
data_dir: /tmp/pgdata
buffer_pool_size: 16MB
checkpoint_schedule: "*/1 * * * *"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":15432", cfg.Listen)
	assert.Equal(t, "/tmp/pgdata", cfg.DataDir)

	pages, err := cfg.PoolPages()
	require.NoError(t, err)
	assert.Equal(t, 2048, pages)

	// Unset keys keep their defaults.
	assert.Equal(t, "1MB", cfg.WALSegmentSize)
}

func TestExplicitPoolPagesWins(t *testing.T) {
	cfg := Default()
	cfg.BufferPoolPages = 77
	pages, err := cfg.PoolPages()
	require.NoError(t, err)
	assert.Equal(t, 77, pages)
}
