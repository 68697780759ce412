package allocator

// ChildRefs is supplied by the caller (the Array layer) to enumerate the
// refs directly reachable from the region at ref, when that region's
// has_refs bit is set. It must return an empty slice for leaf regions.
//
// internal/pager deliberately knows nothing about Arrays or has_refs; this
// callback is what lets reachability GC live at the allocator layer without
// the page substrate itself becoming domain-aware.
type ChildRefs func(ref Ref) ([]Ref, error)

// Reachable performs a mark pass over the ref graph starting at roots,
// returning the set of refs transitively reachable from them.
func Reachable(roots []Ref, children ChildRefs) (map[Ref]bool, error) {
	seen := make(map[Ref]bool)
	var stack []Ref
	for _, r := range roots {
		if !r.IsNull() && !seen[r] {
			seen[r] = true
			stack = append(stack, r)
		}
	}
	for len(stack) > 0 {
		r := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		kids, err := children(r)
		if err != nil {
			return nil, err
		}
		for _, k := range kids {
			if !k.IsNull() && !seen[k] {
				seen[k] = true
				stack = append(stack, k)
			}
		}
	}
	return seen, nil
}

// CollectOrphans scans every ref the allocator currently knows about and
// frees the ones not reachable from roots. It returns the number of
// regions reclaimed.
func (f *FileAllocator) CollectOrphans(roots []Ref, children ChildRefs) (int, error) {
	f.mu.Lock()
	all := make([]Ref, 0, len(f.meta))
	for ref := range f.meta {
		all = append(all, ref)
	}
	f.mu.Unlock()

	reachable, err := Reachable(roots, children)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, ref := range all {
		if reachable[ref] {
			continue
		}
		if err := f.Free(ref); err != nil {
			return reclaimed, err
		}
		reclaimed++
	}
	return reclaimed, nil
}
