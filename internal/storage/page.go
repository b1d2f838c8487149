// Package storage implements the on-disk layer: 8 KiB slotted pages, an
// LRU buffer pool with dirty tracking, a page manager translating page ids
// to per-table files, and the paged heap each table stores its rows in.
//
// What: Row payloads live in fixed-size slotted pages; the buffer pool
// caches pages; the page manager mediates all disk I/O; the paged heap
// exposes MVCC-aware row CRUD on top.
// How: Pages carry a binary header with lower/upper water marks and a
// CRC32-C checksum, a slot directory growing from the header toward the page
// end and row payloads growing from the page end toward the header. All I/O goes through one mutex
// over the pool; page writes go to a temp file and rename so a failed
// write never clobbers the old image.
// Why: The executor only ever sees rows; everything about bytes, caching,
// and durability stays behind this package.
package storage

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/minipg/minipg/internal/core"
)

// PageSize is the fixed on-disk page size (8 KiB, PostgreSQL's choice).
const PageSize = 8192

// pageHeaderSize is the serialized header length:
//
//	[0:4]   TableID    (uint32 LE)
//	[4:8]   PageNumber (uint32 LE)
//	[8:10]  FreeSpace  (uint16 LE)
//	[10:12] SlotCount  (uint16 LE)
//	[12:14] Lower      (uint16 LE)
//	[14:16] Upper      (uint16 LE)
//	[16:20] Checksum   (uint32 LE, CRC32-C with this field zeroed)
//	[20:24] Reserved
const pageHeaderSize = 24

// slotSize is the serialized slot entry length: offset u16, length u16,
// used flag u8.
const slotSize = 5

// PageID uniquely identifies a page: which table, which page within it.
type PageID struct {
	TableID    uint32
	PageNumber uint32
}

// NewPageID builds a page id.
func NewPageID(tableID, pageNumber uint32) PageID {
	return PageID{TableID: tableID, PageNumber: pageNumber}
}

func (id PageID) String() string {
	return fmt.Sprintf("table_%d/page_%08d", id.TableID, id.PageNumber)
}

// Slot points at one row payload inside the page.
type Slot struct {
	Offset uint16
	Length uint16
	Used   bool
}

// PageHeader is the page's bookkeeping block. Lower is the end of the slot
// directory (grows up); Upper the start of row data (grows down);
// FreeSpace the gap between them.
type PageHeader struct {
	PageID    PageID
	FreeSpace uint16
	SlotCount uint16
	Lower     uint16
	Upper     uint16
	Checksum  uint32
}

// Page is one 8 KiB storage unit: header, slot directory, row payloads.
type Page struct {
	Header PageHeader
	Slots  []Slot
	data   []byte // PageSize bytes; row payloads live at [Upper:PageSize)
}

// NewPage builds an empty page with full free space.
func NewPage(id PageID) *Page {
	return &Page{
		Header: PageHeader{
			PageID:    id,
			FreeSpace: PageSize - pageHeaderSize,
			Lower:     pageHeaderSize,
			Upper:     PageSize,
		},
		data: make([]byte, PageSize),
	}
}

// CanFit reports whether a serialized row of rowSize bytes plus its slot
// entry fits in the remaining free space.
func (p *Page) CanFit(rowSize int) bool {
	return rowSize+slotSize <= int(p.Header.FreeSpace)
}

// InsertRow serializes row, places its bytes at the bottom of the free
// region and appends a used slot. Returns the slot index.
func (p *Page) InsertRow(row core.Row) (int, error) {
	payload := core.MarshalRow(row)
	if !p.CanFit(len(payload)) {
		return 0, fmt.Errorf("%w: need %d bytes, have %d",
			core.ErrPageFull, len(payload)+slotSize, p.Header.FreeSpace)
	}

	newUpper := p.Header.Upper - uint16(len(payload))
	copy(p.data[newUpper:], payload)

	slotIdx := len(p.Slots)
	p.Slots = append(p.Slots, Slot{Offset: newUpper, Length: uint16(len(payload)), Used: true})

	p.Header.SlotCount++
	p.Header.Upper = newUpper
	p.Header.Lower += slotSize
	p.Header.FreeSpace = p.Header.Upper - p.Header.Lower

	return slotIdx, nil
}

// GetRow decodes the row at slotIdx. Unknown or unused slots are errors.
func (p *Page) GetRow(slotIdx int) (core.Row, error) {
	if slotIdx < 0 || slotIdx >= len(p.Slots) {
		return core.Row{}, fmt.Errorf("%w: slot %d of %d on %s",
			core.ErrSlotNotFound, slotIdx, len(p.Slots), p.Header.PageID)
	}
	slot := p.Slots[slotIdx]
	if !slot.Used {
		return core.Row{}, fmt.Errorf("%w: slot %d on %s is not in use",
			core.ErrSlotNotFound, slotIdx, p.Header.PageID)
	}
	return core.UnmarshalRow(p.data[slot.Offset : slot.Offset+slot.Length])
}

// UpdateRow rewrites the row at slotIdx in place when the new payload is no
// larger than the old one. Returns false (page unchanged) when it does not
// fit.
func (p *Page) UpdateRow(slotIdx int, row core.Row) (bool, error) {
	if slotIdx < 0 || slotIdx >= len(p.Slots) {
		return false, fmt.Errorf("%w: slot %d of %d on %s",
			core.ErrSlotNotFound, slotIdx, len(p.Slots), p.Header.PageID)
	}
	payload := core.MarshalRow(row)
	slot := &p.Slots[slotIdx]
	if len(payload) > int(slot.Length) {
		return false, nil
	}
	copy(p.data[slot.Offset:], payload)
	slot.Length = uint16(len(payload))
	return true, nil
}

// DeleteRow marks the slot unused. The payload bytes and the slot entry stay
// in place: free space does not grow and the slot is not reused. VACUUM frees
// slots through this method, so it does not compact the page either.
func (p *Page) DeleteRow(slotIdx int) error {
	if slotIdx < 0 || slotIdx >= len(p.Slots) {
		return fmt.Errorf("%w: slot %d of %d on %s",
			core.ErrSlotNotFound, slotIdx, len(p.Slots), p.Header.PageID)
	}
	p.Slots[slotIdx].Used = false
	return nil
}

// GetAllRows decodes every used slot in slot order.
func (p *Page) GetAllRows() []core.Row {
	var rows []core.Row
	for i := range p.Slots {
		if !p.Slots[i].Used {
			continue
		}
		if row, err := p.GetRow(i); err == nil {
			rows = append(rows, row)
		}
	}
	return rows
}

// UsedSlotCount returns the number of live slots.
func (p *Page) UsedSlotCount() int {
	n := 0
	for i := range p.Slots {
		if p.Slots[i].Used {
			n++
		}
	}
	return n
}

// Clone deep-copies the page.
func (p *Page) Clone() *Page {
	cp := &Page{
		Header: p.Header,
		Slots:  append([]Slot(nil), p.Slots...),
		data:   append([]byte(nil), p.data...),
	}
	return cp
}

var pageCRCTable = crc32.MakeTable(crc32.Castagnoli)

// ToBytes serializes the page into exactly PageSize bytes, computing the
// checksum over the image with the checksum field zeroed.
func (p *Page) ToBytes() []byte {
	buf := make([]byte, PageSize)
	h := &p.Header
	binary.LittleEndian.PutUint32(buf[0:], h.PageID.TableID)
	binary.LittleEndian.PutUint32(buf[4:], h.PageID.PageNumber)
	binary.LittleEndian.PutUint16(buf[8:], h.FreeSpace)
	binary.LittleEndian.PutUint16(buf[10:], h.SlotCount)
	binary.LittleEndian.PutUint16(buf[12:], h.Lower)
	binary.LittleEndian.PutUint16(buf[14:], h.Upper)
	// checksum written last

	off := pageHeaderSize
	for _, s := range p.Slots {
		binary.LittleEndian.PutUint16(buf[off:], s.Offset)
		binary.LittleEndian.PutUint16(buf[off+2:], s.Length)
		if s.Used {
			buf[off+4] = 1
		}
		off += slotSize
	}
	copy(buf[h.Upper:], p.data[h.Upper:])

	crc := crc32.Checksum(buf, pageCRCTable)
	binary.LittleEndian.PutUint32(buf[16:], crc)
	p.Header.Checksum = crc
	return buf
}

// FromBytes reconstructs a page from its on-disk image, verifying length,
// checksum, and the water-mark invariant.
func FromBytes(buf []byte) (*Page, error) {
	if len(buf) != PageSize {
		return nil, core.Corruption(fmt.Sprintf("page image is %d bytes, want %d", len(buf), PageSize))
	}

	stored := binary.LittleEndian.Uint32(buf[16:])
	img := append([]byte(nil), buf...)
	binary.LittleEndian.PutUint32(img[16:], 0)
	if computed := crc32.Checksum(img, pageCRCTable); computed != stored {
		return nil, core.Corruption(fmt.Sprintf("page checksum mismatch: stored=%08x computed=%08x", stored, computed))
	}

	p := &Page{data: make([]byte, PageSize)}
	p.Header.PageID.TableID = binary.LittleEndian.Uint32(buf[0:])
	p.Header.PageID.PageNumber = binary.LittleEndian.Uint32(buf[4:])
	p.Header.FreeSpace = binary.LittleEndian.Uint16(buf[8:])
	p.Header.SlotCount = binary.LittleEndian.Uint16(buf[10:])
	p.Header.Lower = binary.LittleEndian.Uint16(buf[12:])
	p.Header.Upper = binary.LittleEndian.Uint16(buf[14:])
	p.Header.Checksum = stored

	if int(p.Header.Lower) != pageHeaderSize+int(p.Header.SlotCount)*slotSize ||
		p.Header.Lower > p.Header.Upper ||
		int(p.Header.Lower)+int(p.Header.FreeSpace)+(PageSize-int(p.Header.Upper)) != PageSize {
		return nil, core.Corruption(fmt.Sprintf("page %s water marks inconsistent", p.Header.PageID))
	}

	off := pageHeaderSize
	p.Slots = make([]Slot, p.Header.SlotCount)
	for i := range p.Slots {
		p.Slots[i] = Slot{
			Offset: binary.LittleEndian.Uint16(buf[off:]),
			Length: binary.LittleEndian.Uint16(buf[off+2:]),
			Used:   buf[off+4] == 1,
		}
		off += slotSize
	}
	copy(p.data[p.Header.Upper:], buf[p.Header.Upper:])
	return p, nil
}
