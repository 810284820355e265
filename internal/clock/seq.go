package clock

import "sync/atomic"

// Seq is a monotonic logical counter. Each reconciliation pass is stamped
// with a strictly increasing value so journal order matches processing order.
//
// Safe for concurrent use.
type Seq struct {
	n atomic.Int64
}

// NewSeq returns a counter starting at 0.
func NewSeq() *Seq {
	return &Seq{}
}

// NewSeqAt returns a counter resuming after start. Used when reopening a
// journal that already holds passes.
func NewSeqAt(start int64) *Seq {
	s := &Seq{}
	s.n.Store(start)
	return s
}

// Next returns the next value.
func (s *Seq) Next() int64 {
	return s.n.Add(1)
}

// Current returns the last value handed out.
func (s *Seq) Current() int64 {
	return s.n.Load()
}
