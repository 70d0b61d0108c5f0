package gallery

import "sort"

// PendingTracker is the set of artifact ids whose delete this client applied
// optimistically and has not yet seen confirmed by the feed or rolled back.
// It is owned by the gallery event loop and is not safe for concurrent use.
type PendingTracker struct {
	ids map[string]struct{}
}

// NewPendingTracker returns a tracker with no open leases.
func NewPendingTracker() *PendingTracker {
	return &PendingTracker{ids: map[string]struct{}{}}
}

// Begin opens a lease for id. Beginning an open lease is a no-op.
func (t *PendingTracker) Begin(id string) {
	if id == "" {
		return
	}
	t.ids[id] = struct{}{}
}

// IsPending reports whether id has an open lease.
func (t *PendingTracker) IsPending(id string) bool {
	_, ok := t.ids[id]
	return ok
}

// End closes the lease for id. Ending an absent lease is a no-op.
func (t *PendingTracker) End(id string) {
	delete(t.ids, id)
}

// Len returns the number of open leases.
func (t *PendingTracker) Len() int {
	return len(t.ids)
}

// IDs returns the open leases in sorted order.
func (t *PendingTracker) IDs() []string {
	out := make([]string, 0, len(t.ids))
	for id := range t.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
