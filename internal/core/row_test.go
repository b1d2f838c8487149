package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRowXmaxInvariant(t *testing.T) {
	r := NewRow([]Value{NewInteger(1)}, 100)
	assert.False(t, r.HasXmax())

	r.MarkDeleted(150)
	assert.True(t, r.HasXmax())
	assert.Greater(t, r.Xmax, r.Xmin)
}

func TestRowVisibleToSnapshot(t *testing.T) {
	tests := []struct {
		name    string
		row     Row
		snap    Snapshot
		visible bool
	}{
		{
			"created before snapshot, not deleted",
			Row{Xmin: 1},
			NewSnapshot(2, 2, nil),
			true,
		},
		{
			"created by uncommitted tx",
			Row{Xmin: 2},
			NewSnapshot(2, 3, []uint64{2}),
			false,
		},
		{
			"created after snapshot",
			Row{Xmin: 5},
			NewSnapshot(3, 3, nil),
			false,
		},
		{
			"deleted by uncommitted tx",
			Row{Xmin: 1, Xmax: 3},
			NewSnapshot(3, 4, []uint64{3}),
			true,
		},
		{
			"deleted after snapshot",
			Row{Xmin: 1, Xmax: 5},
			NewSnapshot(3, 3, nil),
			true,
		},
		{
			"deleted before snapshot",
			Row{Xmin: 1, Xmax: 2},
			NewSnapshot(5, 5, nil),
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.visible, tt.row.VisibleTo(tt.snap))
		})
	}
}

func TestRowIsDead(t *testing.T) {
	alive := Row{Xmin: 100}
	assert.False(t, alive.IsDead(200))

	dead := Row{Xmin: 100, Xmax: 150}
	assert.True(t, dead.IsDead(200))
	assert.True(t, dead.IsDead(150))
	assert.False(t, dead.IsDead(149))
	assert.False(t, dead.IsDead(100))
}
