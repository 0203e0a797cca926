// Package icequeue buffers remote ICE candidates that arrive before a
// remote description exists, and drains them in arrival order once one is
// set, per spec.md invariant 1.
package icequeue

import (
	"github.com/gammazero/deque"

	"github.com/go-webrtc/callorch/internal/domain"
)

// Queue is a FIFO buffer of remote candidates awaiting a remote
// description. Not safe for concurrent use; the orchestrator's single
// event-loop goroutine owns it.
type Queue struct {
	d deque.Deque[domain.ICECandidatePayload]
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Push enqueues a candidate received while no remote description exists.
func (q *Queue) Push(c domain.ICECandidatePayload) {
	q.d.PushBack(c)
}

// Len reports the number of buffered candidates.
func (q *Queue) Len() int {
	return q.d.Len()
}

// Drain removes every buffered candidate in arrival order and passes each
// to apply. Draining stops and returns the first error apply produces,
// leaving any remaining candidates buffered so a later drain can retry
// them in the same order.
func (q *Queue) Drain(apply func(domain.ICECandidatePayload) error) error {
	for q.d.Len() > 0 {
		c := q.d.Front()
		if err := apply(c); err != nil {
			return err
		}
		q.d.PopFront()
	}
	return nil
}

// Clear discards every buffered candidate without applying it, used on
// teardown (spec.md's Clean operation).
func (q *Queue) Clear() {
	q.d.Clear()
}
