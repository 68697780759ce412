package allocator

import (
	"path/filepath"
	"testing"
)

func TestReachableMarksTransitiveClosure(t *testing.T) {
	// Graph: 1 -> 2 -> 3, 4 (orphan, unreachable from root 1).
	edges := map[Ref][]Ref{1: {2}, 2: {3}, 3: {}, 4: {}}
	children := func(r Ref) ([]Ref, error) { return edges[r], nil }

	seen, err := Reachable([]Ref{1}, children)
	if err != nil {
		t.Fatalf("reachable: %v", err)
	}
	for _, want := range []Ref{1, 2, 3} {
		if !seen[want] {
			t.Fatalf("expected %v reachable from root 1", want)
		}
	}
	if seen[4] {
		t.Fatalf("ref 4 must not be reachable from root 1")
	}
}

func TestFileAllocatorCollectOrphans(t *testing.T) {
	dir := t.TempDir()
	fa, err := CreateFileAllocator(FileAllocatorConfig{
		DBPath:   filepath.Join(dir, "db.realm"),
		WALPath:  filepath.Join(dir, "db.realm.wal"),
		PageSize: 4096,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer fa.Close()

	root, _, err := fa.Alloc(8)
	if err != nil {
		t.Fatalf("alloc root: %v", err)
	}
	child, _, err := fa.Alloc(8)
	if err != nil {
		t.Fatalf("alloc child: %v", err)
	}
	orphan, _, err := fa.Alloc(8)
	if err != nil {
		t.Fatalf("alloc orphan: %v", err)
	}

	edges := map[Ref][]Ref{root: {child}, child: {}, orphan: {}}
	children := func(r Ref) ([]Ref, error) { return edges[r], nil }

	reclaimed, err := fa.CollectOrphans([]Ref{root}, children)
	if err != nil {
		t.Fatalf("collect_orphans: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("reclaimed = %d, want 1", reclaimed)
	}
	if _, err := fa.Translate(orphan); err == nil {
		t.Fatalf("expected orphan ref to be freed")
	}
	if _, err := fa.Translate(root); err != nil {
		t.Fatalf("root ref must survive collection: %v", err)
	}
	if _, err := fa.Translate(child); err != nil {
		t.Fatalf("reachable child ref must survive collection: %v", err)
	}
}
