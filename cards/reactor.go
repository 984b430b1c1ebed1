package cards

import (
	"container/heap"
	"time"
)

// EventMask is a set of readiness bits a slot can be interested in, or
// that it reports back after a poll (spec.md §4.7).
type EventMask uint8

const (
	EventRead EventMask = 1 << iota
	EventWrite
	EventHangUp
	EventErr
)

// Handle identifies a registered descriptor. It is only valid for the
// Reactor that issued it.
type Handle int

const emptyFD = -1

type slot struct {
	fd       int
	events   EventMask
	revents  EventMask
	deadline time.Time // zero = no deadline
	timedOut bool
}

func (s *slot) empty() bool { return s.fd == emptyFD }

// Reactor is the single-threaded readiness multiplexer of spec.md §4.7:
// a mutable slot table polled with one syscall per run() call, modelled
// after the proactor-style event loop of the async-io reference
// library but simplified to synchronous readiness reporting (no
// submission queue, no worker pool — the whole program is one thread).
// The slot table itself is platform-agnostic; the actual wait syscall
// lives in poll_linux.go.
type Reactor struct {
	slots    []slot
	free     []int
	timeouts timeoutHeap
}

// NewReactor constructs an empty reactor.
func NewReactor() *Reactor {
	return &Reactor{}
}

// Add registers fd with no interest and no deadline, reusing an empty
// slot before extending the table.
func (r *Reactor) Add(fd int) Handle {
	if len(r.free) > 0 {
		i := r.free[len(r.free)-1]
		r.free = r.free[:len(r.free)-1]
		r.slots[i] = slot{fd: fd}
		return Handle(i)
	}
	r.slots = append(r.slots, slot{fd: fd})
	return Handle(len(r.slots) - 1)
}

// Remove empties the slot. The caller is responsible for closing fd;
// the reactor only forgets it.
func (r *Reactor) Remove(h Handle) {
	s := &r.slots[h]
	if s.empty() {
		return
	}
	r.clearDeadlineLocked(h)
	s.fd = emptyFD
	s.events, s.revents, s.timedOut = 0, 0, false
	r.free = append(r.free, int(h))
}

// SetEvents adds mask to the slot's interest set.
func (r *Reactor) SetEvents(h Handle, mask EventMask) { r.slots[h].events |= mask }

// UnsetEvents removes mask from the slot's interest set.
func (r *Reactor) UnsetEvents(h Handle, mask EventMask) { r.slots[h].events &^= mask }

// Events reports what became ready on the last Run; timeouts are
// reported by TimedOut, not here.
func (r *Reactor) Events(h Handle) EventMask { return r.slots[h].revents }

// TimedOut reports whether the slot's deadline has elapsed; the flag
// stays set until SetDeadline re-arms or ClearDeadline disarms the slot.
func (r *Reactor) TimedOut(h Handle) bool { return r.slots[h].timedOut }

// HasDeadline reports whether a deadline is currently armed for h.
func (r *Reactor) HasDeadline(h Handle) bool { return !r.slots[h].deadline.IsZero() }

// SetDeadline arms (or re-arms) the slot's deadline to ms milliseconds
// from now.
func (r *Reactor) SetDeadline(h Handle, ms int) {
	s := &r.slots[h]
	s.deadline = time.Now().Add(time.Duration(ms) * time.Millisecond)
	s.timedOut = false
	heap.Push(&r.timeouts, timeoutEntry{handle: h, at: s.deadline})
}

// ClearDeadline disarms the slot's deadline.
func (r *Reactor) ClearDeadline(h Handle) { r.clearDeadlineLocked(h) }

func (r *Reactor) clearDeadlineLocked(h Handle) {
	r.slots[h].deadline = time.Time{}
	r.slots[h].timedOut = false
}

// nextDeadlineMillis returns the poll timeout: milliseconds until the
// soonest live deadline, 0 if one has already elapsed, or -1 (block
// indefinitely) if no slot has a deadline armed.
func (r *Reactor) nextDeadlineMillis() int {
	for r.timeouts.Len() > 0 {
		top := r.timeouts[0]
		s := &r.slots[top.handle]
		if s.empty() || s.deadline.IsZero() || !s.deadline.Equal(top.at) {
			// Stale entry: superseded by a later SetDeadline, or the
			// slot was removed/cleared since this entry was pushed.
			heap.Pop(&r.timeouts)
			continue
		}
		remaining := time.Until(top.at)
		if remaining <= 0 {
			return 0
		}
		// Round up so poll does not wake just before the deadline.
		return int((remaining + time.Millisecond - 1) / time.Millisecond)
	}
	return -1
}

// markExpired marks every slot whose deadline has now elapsed.
func (r *Reactor) markExpired() {
	now := time.Now()
	for r.timeouts.Len() > 0 {
		top := r.timeouts[0]
		s := &r.slots[top.handle]
		if s.empty() || s.deadline.IsZero() || !s.deadline.Equal(top.at) {
			heap.Pop(&r.timeouts)
			continue
		}
		if top.at.After(now) {
			break
		}
		heap.Pop(&r.timeouts)
		s.timedOut = true
		s.deadline = time.Time{}
	}
}

// timeoutEntry is one pending deadline in the reactor's priority queue.
type timeoutEntry struct {
	handle Handle
	at     time.Time
}

// timeoutHeap is a container/heap priority queue ordered by deadline,
// the same shape as the reference async-io library's pending-timeout
// heap, sized down to what a single-threaded reactor needs.
type timeoutHeap []timeoutEntry

func (h timeoutHeap) Len() int            { return len(h) }
func (h timeoutHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h timeoutHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timeoutHeap) Push(x interface{}) { *h = append(*h, x.(timeoutEntry)) }
func (h *timeoutHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
