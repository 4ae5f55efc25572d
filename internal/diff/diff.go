// Package diff compares local and remote key->tag maps.
package diff

import "sort"

// Result holds the mutation sets needed to converge remote onto local.
// A key in both ToDelete and ToAdd is an overwrite: the stale object is
// deleted and the new bytes are put under the same key.
type Result struct {
	ToDelete map[string]struct{}
	ToAdd    map[string]struct{}
	ToSkip   map[string]struct{}
}

// Compute compares desired (local) state against existing (remote) state.
// Both maps are key -> content tag.
func Compute(local, remote map[string]string) *Result {
	r := &Result{
		ToDelete: make(map[string]struct{}),
		ToAdd:    make(map[string]struct{}),
		ToSkip:   make(map[string]struct{}),
	}

	for key, tag := range remote {
		localTag, ok := local[key]
		if !ok || localTag != tag {
			r.ToDelete[key] = struct{}{}
		}
	}

	for key, tag := range local {
		remoteTag, ok := remote[key]
		switch {
		case !ok || remoteTag != tag:
			r.ToAdd[key] = struct{}{}
		default:
			r.ToSkip[key] = struct{}{}
		}
	}

	return r
}

// Empty reports whether no mutation is needed.
func (r *Result) Empty() bool {
	return len(r.ToDelete) == 0 && len(r.ToAdd) == 0
}

// Overwrites returns the keys present in both ToDelete and ToAdd.
func (r *Result) Overwrites() []string {
	var keys []string
	for k := range r.ToDelete {
		if _, ok := r.ToAdd[k]; ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Sorted returns the members of a key set in lexical order.
func Sorted(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
