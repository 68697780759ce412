package pager

import "encoding/binary"

// ───────────────────────────────────────────────────────────────────────────
// Reclaim list
// ───────────────────────────────────────────────────────────────────────────
//
// Pages freed by FreeRegion (pager.go) are not handed back to the OS — they
// are recorded here so the allocator's next region of the same or smaller
// page count can reuse them instead of growing the file. The list persists
// as a chain of pages, each holding a batch of reclaimed page IDs.
//
// Layout:
//   [0:32]  Common PageHeader (Type=ReclaimList)
//   [32:36] NextReclaim  (uint32 LE) — next reclaim-list page, 0 = end
//   [36:40] EntryCount   (uint32 LE) — number of page IDs stored here
//   [40:*]  Entries      array of uint32 LE page IDs

const (
	reclaimNextOff  = PageHeaderSize       // 32
	reclaimCountOff = reclaimNextOff + 4   // 36
	reclaimDataOff  = reclaimCountOff + 4  // 40
	reclaimEntryLen = 4                    // uint32
)

// ReclaimPageCapacity returns how many page IDs fit in one reclaim-list page.
func ReclaimPageCapacity(pageSize int) int {
	return (pageSize - reclaimDataOff) / reclaimEntryLen
}

// ReclaimPage wraps a page buffer as a reclaim-list page.
type ReclaimPage struct {
	buf      []byte
	pageSize int
}

// WrapReclaimPage wraps an existing reclaim-list buffer.
func WrapReclaimPage(buf []byte) *ReclaimPage {
	return &ReclaimPage{buf: buf, pageSize: len(buf)}
}

// InitReclaimPage creates a new empty reclaim-list page.
func InitReclaimPage(buf []byte, id PageID) *ReclaimPage {
	h := &PageHeader{Type: PageTypeReclaimList, ID: id}
	MarshalHeader(h, buf)
	binary.LittleEndian.PutUint32(buf[reclaimNextOff:], uint32(InvalidPageID))
	binary.LittleEndian.PutUint32(buf[reclaimCountOff:], 0)
	return &ReclaimPage{buf: buf, pageSize: len(buf)}
}

// NextReclaim returns the next reclaim-list page in the chain.
func (rl *ReclaimPage) NextReclaim() PageID {
	return PageID(binary.LittleEndian.Uint32(rl.buf[reclaimNextOff:]))
}

// SetNextReclaim sets the next page pointer.
func (rl *ReclaimPage) SetNextReclaim(pid PageID) {
	binary.LittleEndian.PutUint32(rl.buf[reclaimNextOff:], uint32(pid))
}

// EntryCount returns the number of page IDs currently stored.
func (rl *ReclaimPage) EntryCount() int {
	return int(binary.LittleEndian.Uint32(rl.buf[reclaimCountOff:]))
}

// GetEntry returns the page ID at index i.
func (rl *ReclaimPage) GetEntry(i int) PageID {
	off := reclaimDataOff + i*reclaimEntryLen
	return PageID(binary.LittleEndian.Uint32(rl.buf[off:]))
}

// AddEntry appends a page ID. Returns false if the page is full.
func (rl *ReclaimPage) AddEntry(pid PageID) bool {
	ec := rl.EntryCount()
	if ec >= ReclaimPageCapacity(rl.pageSize) {
		return false
	}
	off := reclaimDataOff + ec*reclaimEntryLen
	binary.LittleEndian.PutUint32(rl.buf[off:], uint32(pid))
	binary.LittleEndian.PutUint32(rl.buf[reclaimCountOff:], uint32(ec+1))
	return true
}

// PopEntry removes and returns the last page ID, or InvalidPageID if empty.
func (rl *ReclaimPage) PopEntry() PageID {
	ec := rl.EntryCount()
	if ec == 0 {
		return InvalidPageID
	}
	pid := rl.GetEntry(ec - 1)
	binary.LittleEndian.PutUint32(rl.buf[reclaimCountOff:], uint32(ec-1))
	return pid
}

// AllEntries returns every page ID stored on this page.
func (rl *ReclaimPage) AllEntries() []PageID {
	ec := rl.EntryCount()
	out := make([]PageID, ec)
	for i := 0; i < ec; i++ {
		out[i] = rl.GetEntry(i)
	}
	return out
}

// Bytes returns the underlying page buffer.
func (rl *ReclaimPage) Bytes() []byte { return rl.buf }

// ───────────────────────────────────────────────────────────────────────────
// PageReclaimer
// ───────────────────────────────────────────────────────────────────────────

// PageReclaimer tracks released pages using an in-memory set, backed by a
// persisted chain of ReclaimPages. The allocator releases pages in batches
// (one region's whole chain at a time, see Pager.FreeRegion) and reclaims
// them one at a time as new regions are allocated.
type PageReclaimer struct {
	free map[PageID]struct{}
	head PageID
}

// NewPageReclaimer creates an empty PageReclaimer. Call LoadFromDisk to
// populate it from a previously persisted chain.
func NewPageReclaimer() *PageReclaimer {
	return &PageReclaimer{free: map[PageID]struct{}{}}
}

// LoadFromDisk reads the reclaim-list chain starting at head and populates
// the in-memory set.
func (pr *PageReclaimer) LoadFromDisk(head PageID, readPage func(PageID) ([]byte, error)) error {
	pid := head
	for pid != InvalidPageID {
		buf, err := readPage(pid)
		if err != nil {
			return err
		}
		rl := WrapReclaimPage(buf)
		for _, e := range rl.AllEntries() {
			pr.free[e] = struct{}{}
		}
		pid = rl.NextReclaim()
	}
	return nil
}

// Reclaim removes and returns an arbitrary released page for reuse, or
// InvalidPageID if none are available.
func (pr *PageReclaimer) Reclaim() PageID {
	for pid := range pr.free {
		delete(pr.free, pid)
		return pid
	}
	return InvalidPageID
}

// Release marks a single page as available for reuse.
func (pr *PageReclaimer) Release(pid PageID) {
	pr.free[pid] = struct{}{}
}

// ReleaseMany marks every page in pids as available for reuse in one call —
// used to release a whole region's chain together rather than page by page.
func (pr *PageReclaimer) ReleaseMany(pids []PageID) {
	for _, pid := range pids {
		pr.free[pid] = struct{}{}
	}
}

// Count returns the number of pages currently available for reuse.
func (pr *PageReclaimer) Count() int { return len(pr.free) }

// AllReleased returns every currently released page ID (diagnostics/tests).
func (pr *PageReclaimer) AllReleased() []PageID {
	out := make([]PageID, 0, len(pr.free))
	for pid := range pr.free {
		out = append(out, pid)
	}
	return out
}

// Persist writes the current set of released pages to a chain of
// ReclaimPages, using allocPage to obtain fresh page slots. Returns the new
// chain's head PageID (InvalidPageID if the set is empty) and the page
// buffers to write.
func (pr *PageReclaimer) Persist(pageSize int, allocPage func() (PageID, []byte)) (PageID, [][]byte) {
	all := pr.AllReleased()
	if len(all) == 0 {
		pr.head = InvalidPageID
		return InvalidPageID, nil
	}

	cap := ReclaimPageCapacity(pageSize)
	var pages [][]byte
	var prev *ReclaimPage
	var head PageID = InvalidPageID

	for len(all) > 0 {
		n := len(all)
		if n > cap {
			n = cap
		}
		batch := all[:n]
		all = all[n:]

		pid, buf := allocPage()
		rl := InitReclaimPage(buf, pid)
		for _, e := range batch {
			rl.AddEntry(e)
		}
		if prev != nil {
			prev.SetNextReclaim(pid)
		} else {
			head = pid
		}
		SetPageCRC(buf)
		pages = append(pages, buf)
		prev = rl
	}

	pr.head = head
	return head, pages
}
