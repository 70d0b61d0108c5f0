package quotes

// Quota is the server-authoritative storage counter for one owner. When
// IsUnlimited is set, Max and Remaining are not authoritative and local
// mutation logic never adjusts them.
type Quota struct {
	Used        int  `json:"used"`
	Max         *int `json:"max"`
	Remaining   *int `json:"remaining"`
	IsUnlimited bool `json:"isUnlimited"`
}

func LimitedQuota(used, max int) Quota {
	if used < 0 {
		used = 0
	}
	remaining := max - used
	if remaining < 0 {
		remaining = 0
	}
	return Quota{Used: used, Max: intPtr(max), Remaining: intPtr(remaining)}
}

func UnlimitedQuota(used int) Quota {
	if used < 0 {
		used = 0
	}
	return Quota{Used: used, IsUnlimited: true}
}

// Finite reports whether Remaining is a counter local logic may adjust.
func (q Quota) Finite() bool {
	return !q.IsUnlimited && q.Remaining != nil
}

// Release accounts for n artifacts leaving storage. Used is clamped at zero.
// With a known Max, Remaining is recomputed as Max-Used floored at zero, so
// an owner over the limit gains no headroom until Used drops below Max.
func (q Quota) Release(n int) Quota {
	if n <= 0 {
		return q.Clone()
	}
	out := q.Clone()
	released := min(n, out.Used)
	out.Used -= released
	out.adjustRemaining(released)
	return out
}

// Consume accounts for n artifacts entering storage.
func (q Quota) Consume(n int) Quota {
	if n <= 0 {
		return q.Clone()
	}
	out := q.Clone()
	out.Used += n
	out.adjustRemaining(-n)
	return out
}

// adjustRemaining moves a finite Remaining after Used changed by -delta.
func (q *Quota) adjustRemaining(delta int) {
	if !q.Finite() {
		return
	}
	if q.Max != nil {
		*q.Remaining = max(0, *q.Max-q.Used)
		return
	}
	*q.Remaining = max(0, *q.Remaining+delta)
}

// Conserved reports whether Remaining equals Max-Used floored at zero.
// Unlimited quotas and quotas without a known Max trivially hold.
func (q Quota) Conserved() bool {
	if q.IsUnlimited || q.Max == nil || q.Remaining == nil {
		return true
	}
	return *q.Remaining == max(0, *q.Max-q.Used)
}

// Clone returns a copy that shares no pointers with q.
func (q Quota) Clone() Quota {
	out := Quota{Used: q.Used, IsUnlimited: q.IsUnlimited}
	if q.Max != nil {
		out.Max = intPtr(*q.Max)
	}
	if q.Remaining != nil {
		out.Remaining = intPtr(*q.Remaining)
	}
	return out
}

func (q Quota) Equal(other Quota) bool {
	return q.Used == other.Used &&
		q.IsUnlimited == other.IsUnlimited &&
		intPtrEqual(q.Max, other.Max) &&
		intPtrEqual(q.Remaining, other.Remaining)
}

func intPtr(v int) *int {
	return &v
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
