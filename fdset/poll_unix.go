//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package fdset

import (
	"github.com/kannelgo/timerconn/gwthread"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// New returns an FDSet backed by poll(2), with a dedicated goroutine
// dispatching callbacks as descriptors become ready. logger may be nil, in
// which case logrus.StandardLogger() is used.
func New(logger *logrus.Logger) (FDSet, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, errors.Wrap(err, "fdset: creating wakeup pipe")
	}

	s := &pollFDSet{
		entries: make(map[int]*entry),
		wakeR:   fds[0],
		wakeW:   fds[1],
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}

	go s.loop(logger)

	return s, nil
}

func (s *pollFDSet) Register(fd int, events gwthread.Event, cb Callback, ctx interface{}) error {
	s.mu.Lock()
	e, ok := s.entries[fd]
	if ok {
		// Re-registering to the same set: replace the callback only.
		e.cb = cb
		e.ctx = ctx
		s.mu.Unlock()
		return nil
	}
	s.entries[fd] = &entry{fd: fd, mask: events, cb: cb, ctx: ctx}
	s.mu.Unlock()
	s.wake()
	return nil
}

func (s *pollFDSet) Listen(fd int, mask, value gwthread.Event) {
	s.mu.Lock()
	if e, ok := s.entries[fd]; ok {
		e.mask = (e.mask &^ mask) | (value & mask)
	}
	s.mu.Unlock()
	s.wake()
}

func (s *pollFDSet) Unregister(fd int) {
	s.mu.Lock()
	delete(s.entries, fd)
	s.mu.Unlock()
	s.wake()
}

func (s *pollFDSet) Close() (err error) {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.wake()
		<-s.done
		unix.Close(s.wakeR)
		unix.Close(s.wakeW)
	})
	return nil
}

func (s *pollFDSet) wake() {
	var b [1]byte
	_, _ = unix.Write(s.wakeW, b[:])
}

func (s *pollFDSet) loop(logger *logrus.Logger) {
	defer close(s.done)

	drain := make([]byte, 64)
	for {
		select {
		case <-s.closed:
			return
		default:
		}

		s.mu.Lock()
		pollfds := make([]unix.PollFd, 0, len(s.entries)+1)
		pollfds = append(pollfds, unix.PollFd{Fd: int32(s.wakeR), Events: unix.POLLIN})
		order := make([]int, 0, len(s.entries))
		for fd, e := range s.entries {
			if e.mask == 0 {
				continue
			}
			pollfds = append(pollfds, unix.PollFd{Fd: int32(fd), Events: int16(e.mask)})
			order = append(order, fd)
		}
		s.mu.Unlock()

		n, err := unix.Poll(pollfds, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			logger.WithError(err).Error("fdset: poll failed")
			continue
		}
		if n == 0 {
			continue
		}

		if pollfds[0].Revents != 0 {
			for {
				if _, err := unix.Read(s.wakeR, drain); err != nil {
					break
				}
			}
		}

		type fire struct {
			fd      int
			revents gwthread.Event
			cb      Callback
			ctx     interface{}
		}
		var fires []fire

		s.mu.Lock()
		for i, fd := range order {
			pf := pollfds[i+1]
			if pf.Revents == 0 {
				continue
			}
			if e, ok := s.entries[fd]; ok {
				fires = append(fires, fire{fd: fd, revents: gwthread.Event(pf.Revents), cb: e.cb, ctx: e.ctx})
			}
		}
		s.mu.Unlock()

		// Callbacks are invoked with no fdset lock held: they are allowed
		// to call Register/Listen/Unregister on this same FDSet for a
		// different fd, and conn.poll_callback re-enters Listen on the
		// very fd it was called about.
		for _, f := range fires {
			f.cb(f.fd, f.revents, f.ctx)
		}
	}
}
