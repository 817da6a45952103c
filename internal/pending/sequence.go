package pending

import "sync/atomic"

// Sequence allocates request identifiers for one connection. Values are
// monotonically increasing and collision-free under concurrent callers; an
// identifier is never handed out again while a call registered under it is
// still outstanding, because the counter only moves forward.
type Sequence struct {
	n atomic.Uint64
}

// Next returns the next identifier.
func (s *Sequence) Next() uint64 {
	return s.n.Add(1)
}
