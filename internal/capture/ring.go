package capture

import (
	"sync"
	"time"

	"github.com/AutoFlowLabs/ios-bridge/internal/model"
)

// ring is a bounded, drop-oldest frame buffer (spec.md §4.4). One producer,
// many independent consumers draining via Pop.
type ring struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []model.Frame
	cap    int
	drops  uint64
	closed bool
}

func newRing(capacity int) *ring {
	r := &ring{cap: capacity}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Push appends a frame, dropping the oldest buffered frame if the ring is
// full. The capture worker reconfigures quality only between pushes, never
// mid-frame, so every pushed frame is fully formed.
func (r *ring) Push(f model.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if len(r.buf) >= r.cap {
		r.buf = r.buf[1:]
		r.drops++
	}
	r.buf = append(r.buf, f)
	r.cond.Broadcast()
}

// Pop returns the newest frame with sequence greater than lastSeq, blocking
// up to timeout for one to arrive. Returns false on timeout or close.
func (r *ring) Pop(lastSeq uint64, timeout time.Duration) (model.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for {
		if r.closed {
			return model.Frame{}, false
		}
		if len(r.buf) > 0 && r.buf[len(r.buf)-1].Sequence > lastSeq {
			return r.buf[len(r.buf)-1], true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return model.Frame{}, false
		}
		r.waitUpTo(remaining)
	}
}

// waitUpTo blocks on the condition variable for at most d. A timer
// goroutine broadcasts once to guarantee Wait returns even if no frame
// ever arrives.
func (r *ring) waitUpTo(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	defer timer.Stop()
	r.cond.Wait()
}

// Drops returns the cumulative drop count.
func (r *ring) Drops() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drops
}

// Close marks the ring closed and wakes every blocked consumer.
func (r *ring) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.cond.Broadcast()
}
