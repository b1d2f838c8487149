package storage

import (
	"fmt"
	"testing"

	"github.com/minipg/minipg/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRow(id int64, text string) core.Row {
	return core.NewRow([]core.Value{core.NewInteger(id), core.NewText(text)}, 1)
}

func TestPageInsertAndGet(t *testing.T) {
	p := NewPage(NewPageID(1, 0))
	assert.Greater(t, int(p.Header.FreeSpace), 8000)

	slot, err := p.InsertRow(testRow(1, "Alice"))
	require.NoError(t, err)
	assert.Equal(t, 0, slot)
	assert.Equal(t, uint16(1), p.Header.SlotCount)

	got, err := p.GetRow(slot)
	require.NoError(t, err)
	assert.True(t, got.Values[1].Equal(core.NewText("Alice")))
}

func TestPageWaterMarks(t *testing.T) {
	p := NewPage(NewPageID(1, 0))
	for i := 0; i < 10; i++ {
		_, err := p.InsertRow(testRow(int64(i), "row"))
		require.NoError(t, err)
	}
	total := int(p.Header.Lower) + int(p.Header.FreeSpace) + (PageSize - int(p.Header.Upper))
	assert.Equal(t, PageSize, total)
	assert.LessOrEqual(t, p.Header.Lower, p.Header.Upper)
}

func TestPageFull(t *testing.T) {
	p := NewPage(NewPageID(1, 0))
	big := make([]byte, 2048)
	inserted := 0
	for {
		row := core.NewRow([]core.Value{core.NewBytea(big)}, 1)
		if _, err := p.InsertRow(row); err != nil {
			assert.ErrorIs(t, err, core.ErrPageFull)
			break
		}
		inserted++
	}
	assert.Greater(t, inserted, 0)
	assert.Less(t, inserted, 5)
}

func TestPageUpdateInPlace(t *testing.T) {
	p := NewPage(NewPageID(1, 0))
	slot, err := p.InsertRow(testRow(1, "Alice"))
	require.NoError(t, err)

	fit, err := p.UpdateRow(slot, testRow(1, "Bob"))
	require.NoError(t, err)
	assert.True(t, fit)

	got, err := p.GetRow(slot)
	require.NoError(t, err)
	assert.True(t, got.Values[1].Equal(core.NewText("Bob")))

	// A larger payload does not fit and leaves the page unchanged.
	fit, err = p.UpdateRow(slot, testRow(1, "a very much longer replacement value"))
	require.NoError(t, err)
	assert.False(t, fit)
	got, err = p.GetRow(slot)
	require.NoError(t, err)
	assert.True(t, got.Values[1].Equal(core.NewText("Bob")))
}

func TestPageDeleteRow(t *testing.T) {
	p := NewPage(NewPageID(1, 0))
	slot, err := p.InsertRow(testRow(1, "x"))
	require.NoError(t, err)

	require.NoError(t, p.DeleteRow(slot))
	_, err = p.GetRow(slot)
	assert.ErrorIs(t, err, core.ErrSlotNotFound)
	assert.Empty(t, p.GetAllRows())

	assert.Error(t, p.DeleteRow(99))
}

func TestPageRoundTrip(t *testing.T) {
	p := NewPage(NewPageID(3, 7))
	for i := 0; i < 5; i++ {
		_, err := p.InsertRow(testRow(int64(i), fmt.Sprintf("user%d", i)))
		require.NoError(t, err)
	}
	require.NoError(t, p.DeleteRow(2))

	decoded, err := FromBytes(p.ToBytes())
	require.NoError(t, err)
	assert.Equal(t, p.Header.PageID, decoded.Header.PageID)
	assert.Equal(t, p.Header.SlotCount, decoded.Header.SlotCount)
	assert.Equal(t, p.Header.Lower, decoded.Header.Lower)
	assert.Equal(t, p.Header.Upper, decoded.Header.Upper)
	assert.Equal(t, p.Slots, decoded.Slots)

	orig := p.GetAllRows()
	got := decoded.GetAllRows()
	require.Len(t, got, len(orig))
	for i := range orig {
		assert.Equal(t, orig[i].Values, got[i].Values)
	}
}

func TestPageChecksumDetectsCorruption(t *testing.T) {
	p := NewPage(NewPageID(1, 0))
	_, err := p.InsertRow(testRow(1, "x"))
	require.NoError(t, err)

	img := p.ToBytes()
	img[4000] ^= 0xFF
	_, err = FromBytes(img)
	assert.ErrorIs(t, err, core.ErrBinaryCorruption)

	_, err = FromBytes(img[:100])
	assert.ErrorIs(t, err, core.ErrBinaryCorruption)
}
