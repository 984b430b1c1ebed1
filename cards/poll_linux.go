// +build linux

package cards

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Run blocks until any registered fd becomes ready, or the soonest
// deadline elapses, whichever is first. On return every slot is
// updated: ready slots carry their revents, expired-deadline slots are
// marked timed out (spec.md §4.7's "run()" contract). The wait
// primitive is poll(2), grounded in the reference async-io library's
// raw-syscall readiness loop (other_examples' gaio watcher).
func (r *Reactor) Run() error {
	var fds []unix.PollFd
	index := make([]Handle, 0, len(r.slots))
	for i := range r.slots {
		s := &r.slots[i]
		s.revents = 0
		if s.empty() || s.events == 0 {
			continue
		}
		fds = append(fds, unix.PollFd{Fd: int32(s.fd), Events: toPollEvents(s.events)})
		index = append(index, Handle(i))
	}

	timeoutMs := r.nextDeadlineMillis()
	n, err := unix.Poll(fds, timeoutMs)
	if err != nil && err != unix.EINTR {
		return errors.Wrap(err, "cards: poll")
	}

	if n > 0 {
		for i, pfd := range fds {
			if pfd.Revents == 0 {
				continue
			}
			r.slots[index[i]].revents = fromPollEvents(pfd.Revents)
		}
	}

	r.markExpired()
	return nil
}

func toPollEvents(m EventMask) int16 {
	var e int16
	if m&EventRead != 0 {
		e |= unix.POLLIN
	}
	if m&EventWrite != 0 {
		e |= unix.POLLOUT
	}
	return e
}

func fromPollEvents(e int16) EventMask {
	var m EventMask
	if e&unix.POLLIN != 0 {
		m |= EventRead
	}
	if e&unix.POLLOUT != 0 {
		m |= EventWrite
	}
	if e&unix.POLLHUP != 0 {
		m |= EventHangUp
	}
	if e&(unix.POLLERR|unix.POLLNVAL) != 0 {
		m |= EventErr
	}
	return m
}
