package allocator

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/brinchj/realm-core/internal/dberr"
	"github.com/brinchj/realm-core/internal/pager"
)

// regionMeta tracks the on-disk page chain backing a persisted ref.
type regionMeta struct {
	size  int
	pages []pager.PageID // head page first
}

// FileAllocatorConfig configures a FileAllocator.
type FileAllocatorConfig struct {
	DBPath   string
	WALPath  string
	PageSize int
}

// FileAllocator is the persisted Allocator. It is built on top of
// internal/pager's page-based transactional arena: every allocated region
// is a chain of pages (an ArenaHead page followed by zero or more Overflow
// pages), addressed by a Ref equal to the chain's head PageID.
//
// FileAllocator keeps the authoritative bytes for every region it has
// touched in an in-memory write-back cache; Flush persists dirty regions
// through the pager (and therefore through the WAL) in a single
// transaction.
type FileAllocator struct {
	mu         sync.Mutex
	pgr        *pager.Pager
	cache      map[Ref][]byte
	meta       map[Ref]*regionMeta
	dirty      map[Ref]bool
	readOnly   map[Ref]bool
	instanceID uuid.UUID
}

// CreateFileAllocator opens (or creates) a file allocator backed by cfg.
func CreateFileAllocator(cfg FileAllocatorConfig) (*FileAllocator, error) {
	p, err := pager.OpenPager(pager.PagerConfig{
		DBPath:   cfg.DBPath,
		WALPath:  cfg.WALPath,
		PageSize: cfg.PageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("open file allocator: %w", err)
	}
	return &FileAllocator{
		pgr:        p,
		cache:      make(map[Ref][]byte),
		meta:       make(map[Ref]*regionMeta),
		dirty:      make(map[Ref]bool),
		readOnly:   make(map[Ref]bool),
		instanceID: uuid.New(),
	}, nil
}

// InstanceID returns a random identifier minted for this arena instance,
// useful for distinguishing allocator instances in diagnostic output. It is
// never part of the persisted format.
func (f *FileAllocator) InstanceID() uuid.UUID { return f.instanceID }

// Close flushes and closes the underlying pager.
func (f *FileAllocator) Close() error {
	if err := f.Flush(); err != nil {
		return err
	}
	return f.pgr.Close()
}

// RootRef returns the persisted root ref recorded in the superblock.
func (f *FileAllocator) RootRef() Ref {
	sb := f.pgr.Superblock()
	return Ref(sb.RootRef)
}

// Generation returns the number of checkpoints this arena has completed.
// A reader that cached this value can compare it against a fresh read to
// tell whether the arena has been written to since.
func (f *FileAllocator) Generation() uint64 {
	return f.pgr.Superblock().Generation
}

// SetRootRef persists the given ref as the arena's root.
func (f *FileAllocator) SetRootRef(ref Ref) {
	f.pgr.UpdateSuperblock(func(sb *pager.Superblock) {
		sb.RootRef = pager.PageID(ref)
	})
}

func pagesNeeded(size, capacity int) int {
	if size == 0 {
		return 1
	}
	n := size / capacity
	if size%capacity != 0 {
		n++
	}
	return n
}

func (f *FileAllocator) Alloc(size int) (Ref, []byte, error) {
	if size < 0 {
		return 0, nil, dberr.New(dberr.PreconditionViolation, "negative alloc size")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	capacity := pager.RegionPageCapacity(f.pgr.PageSize())
	n := pagesNeeded(size, capacity)
	pages := make([]pager.PageID, 0, n)
	for i := 0; i < n; i++ {
		id, _ := f.pgr.AllocPage()
		pages = append(pages, id)
	}

	ref := Ref(pages[0])
	buf := make([]byte, size)
	f.cache[ref] = buf
	f.meta[ref] = &regionMeta{size: size, pages: pages}
	f.dirty[ref] = true
	return ref, buf, nil
}

func (f *FileAllocator) Realloc(ref Ref, newSize int) (Ref, []byte, error) {
	old, err := f.Translate(ref)
	if err != nil {
		return 0, nil, err
	}
	newRef, newBuf, err := f.Alloc(newSize)
	if err != nil {
		return 0, nil, err
	}
	n := len(old)
	if n > newSize {
		n = newSize
	}
	copy(newBuf, old[:n])
	if err := f.Free(ref); err != nil {
		return 0, nil, err
	}
	return newRef, newBuf, nil
}

func (f *FileAllocator) Free(ref Ref) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	meta, ok := f.meta[ref]
	if !ok {
		return dberr.Newf(dberr.CorruptData, "free of unknown ref %d", ref)
	}
	if err := f.pgr.FreeRegion(pager.PageID(ref), meta.pages); err != nil {
		return fmt.Errorf("free ref %d: %w", ref, err)
	}
	delete(f.cache, ref)
	delete(f.meta, ref)
	delete(f.dirty, ref)
	delete(f.readOnly, ref)
	return nil
}

func (f *FileAllocator) Translate(ref Ref) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if buf, ok := f.cache[ref]; ok {
		return buf, nil
	}
	return nil, dberr.Newf(dberr.CorruptData, "translate of unknown ref %d", ref)
}

func (f *FileAllocator) IsReadOnly(ref Ref) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readOnly[ref]
}

// MarkReadOnly freezes ref, typically called once its bytes have been
// durably committed and handed to a reader as part of a snapshot.
func (f *FileAllocator) MarkReadOnly(ref Ref) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readOnly[ref] = true
}

// Flush writes every dirty cached region back through the pager inside a
// single transaction, then checkpoints.
func (f *FileAllocator) Flush() error {
	f.mu.Lock()
	dirtyRefs := make([]Ref, 0, len(f.dirty))
	for ref := range f.dirty {
		dirtyRefs = append(dirtyRefs, ref)
	}
	f.mu.Unlock()

	if len(dirtyRefs) == 0 {
		return nil
	}

	txID, err := f.pgr.BeginTx()
	if err != nil {
		return fmt.Errorf("flush: begin tx: %w", err)
	}

	for _, ref := range dirtyRefs {
		f.mu.Lock()
		buf := f.cache[ref]
		meta := f.meta[ref]
		f.mu.Unlock()
		if meta == nil {
			continue // freed since the dirty set was snapshotted
		}
		if err := f.writeRegion(txID, meta, buf); err != nil {
			f.pgr.AbortTx(txID)
			return fmt.Errorf("flush ref %d: %w", ref, err)
		}
	}

	if err := f.pgr.CommitTx(txID); err != nil {
		return fmt.Errorf("flush: commit: %w", err)
	}

	f.mu.Lock()
	f.dirty = make(map[Ref]bool)
	f.mu.Unlock()

	return f.pgr.Checkpoint()
}

func (f *FileAllocator) writeRegion(txID pager.TxID, meta *regionMeta, buf []byte) error {
	capacity := pager.RegionPageCapacity(f.pgr.PageSize())
	head := meta.pages[0]
	off := 0
	for i, pid := range meta.pages {
		pt := pager.PageTypeArenaHead
		if i > 0 {
			pt = pager.PageTypeOverflow
		}
		page := pager.NewPage(f.pgr.PageSize(), pt, pid)
		rp := pager.WrapRegionPage(page)
		rp.SetRegionHead(head)

		end := off + capacity
		if end > len(buf) {
			end = len(buf)
		}
		if err := rp.SetData(buf[off:end]); err != nil {
			return err
		}
		if i+1 < len(meta.pages) {
			rp.SetNextInRegion(meta.pages[i+1])
		} else {
			rp.SetNextInRegion(pager.InvalidPageID)
		}
		pager.SetPageCRC(page)
		if err := f.pgr.WritePage(txID, pid, page); err != nil {
			return err
		}
		off = end
	}
	return nil
}

// markDirty flags ref's cached buffer as needing a flush. Array mutations
// go through Alloc/Realloc (already dirty) or mutate the returned buffer
// in place; callers that mutate in place must call this explicitly.
func (f *FileAllocator) markDirty(ref Ref) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirty[ref] = true
}

// Touch marks ref dirty after an in-place mutation of its translated
// buffer, so the next Flush persists the change.
func (f *FileAllocator) Touch(ref Ref) { f.markDirty(ref) }
