package arrayblob

import (
	"bytes"
	"testing"

	"github.com/brinchj/realm-core/internal/allocator"
)

func TestBlobReplaceScenario(t *testing.T) {
	alloc := allocator.NewHeapAllocator()
	b, err := Create(alloc)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := b.Add([]byte("hello")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := b.Bytes(); !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("after add: got %q", got)
	}

	if err := b.Replace(1, 4, []byte("EY")); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if got := b.Bytes(); !bytes.Equal(got, []byte("hEYo")) {
		t.Fatalf("after replace: got %q, want %q", got, "hEYo")
	}
	if b.Len() != 4 {
		t.Fatalf("len after replace = %d, want 4", b.Len())
	}

	if err := b.Delete(0, 4); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if b.Len() != 0 {
		t.Fatalf("len after delete = %d, want 0", b.Len())
	}
}

func TestBlobInsertMiddle(t *testing.T) {
	alloc := allocator.NewHeapAllocator()
	b, _ := Create(alloc)
	b.Add([]byte("ac"))
	if err := b.Insert(1, []byte("b")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := b.Bytes(); !bytes.Equal(got, []byte("abc")) {
		t.Fatalf("got %q, want abc", got)
	}
}

func TestBlobCopyOnWriteIsolatesSnapshot(t *testing.T) {
	alloc := allocator.NewHeapAllocator()
	b, _ := Create(alloc)
	b.Add([]byte("snapshot"))
	ref := b.Ref()
	alloc.MarkReadOnly(ref)

	snapshotBefore, _ := alloc.Translate(ref)
	snapshotCopy := append([]byte(nil), snapshotBefore...)

	if err := b.Add([]byte("!")); err != nil {
		t.Fatalf("add after snapshot: %v", err)
	}
	if b.Ref() == ref {
		t.Fatalf("expected copy-on-write to mint a new ref")
	}

	snapshotAfter, _ := alloc.Translate(ref)
	if !bytes.Equal(snapshotAfter, snapshotCopy) {
		t.Fatalf("snapshot region mutated after supposedly read-only write")
	}
}
