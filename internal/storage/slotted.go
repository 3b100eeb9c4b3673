package storage

import (
	"errors"

	"github.com/tmnhat/ponddb/pkg/bx"
)

// Slotted page layout over a frame's bytes, PostgreSQL-style:
//
//	+------------------+ 0
//	| header           |
//	| line pointers[]  | <-- lower
//	+------------------+
//	|   free space     |
//	+------------------+ <-- upper
//	|  tuple data      |
//	|  (grows down)    |
//	+------------------+ PageSize
//
// The view does not own the buffer; callers are expected to hold the
// frame's latch (through a guard) while reading or writing.

const (
	offSlotFlags = 0
	offSlotCount = 2
	offLower     = 4
	offUpper     = 6
	slotHdrSize  = 8

	slotEntrySize = 4 // offset u16 + length u16
)

const slotTombstone = 0xFFFF

var (
	ErrNoSpace = errors.New("storage: not enough free space in page")
	ErrBadSlot = errors.New("storage: invalid slot")
)

// SlottedPage is a view over a PageSize byte buffer.
type SlottedPage struct {
	Buf []byte
}

// InitSlotted zeroes the buffer and writes a fresh header.
func InitSlotted(buf []byte) (SlottedPage, error) {
	if len(buf) != PageSize {
		return SlottedPage{}, ErrWrongBufSize
	}
	for i := range buf {
		buf[i] = 0
	}
	p := SlottedPage{Buf: buf}
	p.setLower(slotHdrSize)
	p.setUpper(PageSize)
	return p, nil
}

// ViewSlotted wraps an already-initialized buffer.
func ViewSlotted(buf []byte) (SlottedPage, error) {
	if len(buf) != PageSize {
		return SlottedPage{}, ErrWrongBufSize
	}
	return SlottedPage{Buf: buf}, nil
}

func (p SlottedPage) slotCount() int     { return int(bx.U16At(p.Buf, offSlotCount)) }
func (p SlottedPage) setSlotCount(n int) { bx.PutU16At(p.Buf, offSlotCount, uint16(n)) }
func (p SlottedPage) lower() int         { return int(bx.U16At(p.Buf, offLower)) }
func (p SlottedPage) setLower(v int)     { bx.PutU16At(p.Buf, offLower, uint16(v)) }
func (p SlottedPage) upper() int         { return int(bx.U16At(p.Buf, offUpper)) }
func (p SlottedPage) setUpper(v int)     { bx.PutU16At(p.Buf, offUpper, uint16(v)) }

func (p SlottedPage) slotAt(idx int) (off, length int) {
	base := slotHdrSize + idx*slotEntrySize
	return int(bx.U16At(p.Buf, base)), int(bx.U16At(p.Buf, base+2))
}

func (p SlottedPage) putSlot(idx, off, length int) {
	base := slotHdrSize + idx*slotEntrySize
	bx.PutU16At(p.Buf, base, uint16(off))
	bx.PutU16At(p.Buf, base+2, uint16(length))
}

// FreeSpace reports the bytes available between line pointers and tuple
// data, accounting for the line pointer a new tuple would need.
func (p SlottedPage) FreeSpace() int {
	free := p.upper() - p.lower() - slotEntrySize
	if free < 0 {
		return 0
	}
	return free
}

// SlotCount returns the number of line pointers, live or dead.
func (p SlottedPage) SlotCount() int { return p.slotCount() }

// InsertTuple copies data into the page and returns the new slot index.
func (p SlottedPage) InsertTuple(data []byte) (int, error) {
	if len(data) > p.FreeSpace() {
		return 0, ErrNoSpace
	}

	upper := p.upper() - len(data)
	copy(p.Buf[upper:], data)

	idx := p.slotCount()
	p.putSlot(idx, upper, len(data))
	p.setSlotCount(idx + 1)
	p.setLower(slotHdrSize + (idx+1)*slotEntrySize)
	p.setUpper(upper)
	return idx, nil
}

// GetTuple returns the bytes of slot idx. The slice aliases the page
// buffer; copy it before unlatching.
func (p SlottedPage) GetTuple(idx int) ([]byte, error) {
	if idx < 0 || idx >= p.slotCount() {
		return nil, ErrBadSlot
	}
	off, length := p.slotAt(idx)
	if off == slotTombstone {
		return nil, ErrBadSlot
	}
	if off < p.upper() || off+length > PageSize {
		return nil, ErrBadSlot
	}
	return p.Buf[off : off+length], nil
}

// DeleteTuple tombstones the slot. The tuple bytes stay in place until
// the page is compacted by a higher layer.
func (p SlottedPage) DeleteTuple(idx int) error {
	if idx < 0 || idx >= p.slotCount() {
		return ErrBadSlot
	}
	off, _ := p.slotAt(idx)
	if off == slotTombstone {
		return ErrBadSlot
	}
	p.putSlot(idx, slotTombstone, 0)
	return nil
}
