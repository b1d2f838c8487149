package server

import (
	"testing"

	"github.com/minipg/minipg/internal/core"
	"github.com/minipg/minipg/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func clusterContext(t *testing.T, c *Cluster) *engine.Context {
	t.Helper()
	db, err := c.Instance.Database(core.DefaultSuperuser)
	require.NoError(t, err)
	return &engine.Context{
		Instance: c.Instance,
		DB:       db,
		Store:    c.Store.ForDatabase(core.DefaultSuperuser),
		WAL:      c.WAL,
		Txm:      c.Txm,
		Username: core.DefaultSuperuser,
	}
}

func clusterExec(t *testing.T, c *Cluster, sql string) *engine.Result {
	t.Helper()
	stmt, err := engine.Parse(sql)
	require.NoError(t, err)
	res, err := engine.Execute(clusterContext(t, c), stmt)
	require.NoError(t, err, "execute %q", sql)
	return res
}

func TestCrashRecoveryViaWALReplay(t *testing.T) {
	dir := t.TempDir()

	c, err := OpenCluster(dir, "pw", 100, zap.NewNop())
	require.NoError(t, err)
	clusterExec(t, c, `CREATE TABLE x (id INTEGER)`)
	clusterExec(t, c, `INSERT INTO x VALUES (1), (2), (3)`)
	// Simulated crash: no checkpoint, the cluster is simply abandoned.
	require.NoError(t, c.WAL.Close())

	c2, err := OpenCluster(dir, "pw", 100, zap.NewNop())
	require.NoError(t, err)
	defer c2.WAL.Close()

	res := clusterExec(t, c2, `SELECT id FROM x`)
	assert.Equal(t, [][]string{{"1"}, {"2"}, {"3"}}, res.StringRows())
}

func TestRecoveryAfterCheckpointDoesNotDuplicate(t *testing.T) {
	dir := t.TempDir()

	c, err := OpenCluster(dir, "pw", 100, zap.NewNop())
	require.NoError(t, err)
	clusterExec(t, c, `CREATE TABLE x (id INTEGER)`)
	clusterExec(t, c, `INSERT INTO x VALUES (1), (2)`)
	require.NoError(t, c.Checkpoint())
	clusterExec(t, c, `INSERT INTO x VALUES (3)`)
	require.NoError(t, c.WAL.Close())

	c2, err := OpenCluster(dir, "pw", 100, zap.NewNop())
	require.NoError(t, err)
	defer c2.WAL.Close()

	res := clusterExec(t, c2, `SELECT id FROM x`)
	assert.Equal(t, [][]string{{"1"}, {"2"}, {"3"}}, res.StringRows())
}

func TestSnapshotPersistsUsersAndSchemas(t *testing.T) {
	dir := t.TempDir()

	c, err := OpenCluster(dir, "pw", 100, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, c.Instance.CreateUser("alice", "secret", false))
	clusterExec(t, c, `CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)`)
	clusterExec(t, c, `INSERT INTO t VALUES (1, 'x')`)
	require.NoError(t, c.Checkpoint())
	require.NoError(t, c.WAL.Close())

	c2, err := OpenCluster(dir, "pw", 100, zap.NewNop())
	require.NoError(t, err)
	defer c2.WAL.Close()

	assert.True(t, c2.Instance.Authenticate("alice", "secret"))
	db, err := c2.Instance.Database(core.DefaultSuperuser)
	require.NoError(t, err)
	table, err := db.Table("t")
	require.NoError(t, err)
	assert.True(t, table.Columns[0].PrimaryKey)

	res := clusterExec(t, c2, `SELECT name FROM t WHERE id = 1`)
	assert.Equal(t, [][]string{{"x"}}, res.StringRows())
}

func TestIndexesRebuiltAfterLoad(t *testing.T) {
	dir := t.TempDir()

	c, err := OpenCluster(dir, "pw", 100, zap.NewNop())
	require.NoError(t, err)
	clusterExec(t, c, `CREATE TABLE t (id INTEGER, v TEXT)`)
	clusterExec(t, c, `INSERT INTO t VALUES (1, 'a'), (2, 'b')`)
	clusterExec(t, c, `CREATE INDEX idx_id ON t (id)`)
	require.NoError(t, c.Checkpoint())
	require.NoError(t, c.WAL.Close())

	c2, err := OpenCluster(dir, "pw", 100, zap.NewNop())
	require.NoError(t, err)
	defer c2.WAL.Close()

	db, err := c2.Instance.Database(core.DefaultSuperuser)
	require.NoError(t, err)
	ix := db.Index("idx_id")
	require.NotNil(t, ix, "index structure must be rebuilt from its definition")
	assert.Equal(t, 2, ix.EntryCount())

	res := clusterExec(t, c2, `SELECT v FROM t WHERE id = 2`)
	assert.Equal(t, [][]string{{"b"}}, res.StringRows())
}
