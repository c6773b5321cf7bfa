package core

import "sync/atomic"

// Sequence hands out signal and message ids. Ids are unique per
// Sequence and strictly increasing, which is what clients de-duplicate on.
type Sequence struct {
	n atomic.Int64
}

func (s *Sequence) Next() int64 { return s.n.Add(1) }
