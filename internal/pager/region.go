package pager

import (
	"encoding/binary"
	"fmt"
)

// ───────────────────────────────────────────────────────────────────────────
// Region pages
// ───────────────────────────────────────────────────────────────────────────
//
// A region is the allocator's unit of variable-sized storage: one or more
// pages chained together, the first an ArenaHead page and the rest
// Overflow continuations. Every page in a chain — head included — carries
// the PageID of the chain's head page, so a page is self-describing about
// which region it belongs to without the reader needing to have walked the
// chain from the start. The allocator's Ref is numerically that same head
// PageID, which is what lets FreeRegion (see pager.go) and the recovery and
// inspection code cross-check a page against the region it claims to
// belong to.
//
// Layout:
//   [0:32]   Common PageHeader (Type=ArenaHead or Overflow)
//   [32:36]  RegionHead    (uint32 LE) — PageID of this chain's head page
//   [36:40]  NextInRegion  (uint32 LE) — next page in chain, 0 = end
//   [40:44]  DataLen       (uint32 LE) — bytes of payload in this page
//   [44:44+DataLen]  Payload data
//
// The usable capacity per region page is PageSize - 44.

const (
	regionHeadOff    = PageHeaderSize      // 32
	regionNextOff    = regionHeadOff + 4   // 36
	regionDataLenOff = regionNextOff + 4   // 40
	regionDataOff    = regionDataLenOff + 4 // 44
)

// RegionPageCapacity returns the payload capacity of a single region page.
func RegionPageCapacity(pageSize int) int {
	return pageSize - regionDataOff
}

// RegionPage wraps a page buffer as a page within an allocator region's
// chain, whether it is the chain's head or a continuation.
type RegionPage struct {
	buf      []byte
	pageSize int
}

// WrapRegionPage wraps an existing region page buffer.
func WrapRegionPage(buf []byte) *RegionPage {
	return &RegionPage{buf: buf, pageSize: len(buf)}
}

// RegionHead returns the PageID of the head page of the chain this page
// belongs to. For the head page itself this equals its own PageID.
func (rp *RegionPage) RegionHead() PageID {
	return PageID(binary.LittleEndian.Uint32(rp.buf[regionHeadOff:]))
}

// SetRegionHead records which chain this page belongs to.
func (rp *RegionPage) SetRegionHead(pid PageID) {
	binary.LittleEndian.PutUint32(rp.buf[regionHeadOff:], uint32(pid))
}

// NextInRegion returns the next page in the chain, or InvalidPageID at
// the chain's tail.
func (rp *RegionPage) NextInRegion() PageID {
	return PageID(binary.LittleEndian.Uint32(rp.buf[regionNextOff:]))
}

// SetNextInRegion sets the next-page pointer.
func (rp *RegionPage) SetNextInRegion(pid PageID) {
	binary.LittleEndian.PutUint32(rp.buf[regionNextOff:], uint32(pid))
}

// DataLen returns the number of payload bytes stored.
func (rp *RegionPage) DataLen() int {
	return int(binary.LittleEndian.Uint32(rp.buf[regionDataLenOff:]))
}

// SetData writes payload into the page. Returns an error if the data
// exceeds the page's capacity.
func (rp *RegionPage) SetData(data []byte) error {
	cap := RegionPageCapacity(rp.pageSize)
	if len(data) > cap {
		return fmt.Errorf("region page data %d bytes exceeds capacity %d", len(data), cap)
	}
	binary.LittleEndian.PutUint32(rp.buf[regionDataLenOff:], uint32(len(data)))
	copy(rp.buf[regionDataOff:], data)
	return nil
}

// Data returns the payload bytes.
func (rp *RegionPage) Data() []byte {
	dl := rp.DataLen()
	return rp.buf[regionDataOff : regionDataOff+dl]
}

// Bytes returns the underlying page buffer.
func (rp *RegionPage) Bytes() []byte { return rp.buf }
