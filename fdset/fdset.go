// Package fdset implements the FDSet poller the connection core treats as
// an external collaborator: register a file descriptor for a mask of
// events, adjust that mask cheaply, and have a callback delivered from the
// poller's own goroutine when the descriptor becomes ready.
package fdset

import (
	"sync"

	"github.com/kannelgo/timerconn/gwthread"
)

// Callback is invoked by an FDSet's own goroutine when fd has revents
// ready. ctx is whatever was passed to Register. Implementations of
// Callback must not block and must not call Register for the same fd on
// the FDSet that is calling them (registering a different fd, or a
// different FDSet entirely, is fine).
type Callback func(fd int, revents gwthread.Event, ctx interface{})

// FDSet multiplexes readiness notification for a set of non-blocking file
// descriptors.
type FDSet interface {
	// Register starts monitoring fd for events, invoking cb(fd, revents,
	// ctx) from the FDSet's own goroutine whenever any requested event
	// fires. Registering an fd that is already registered to this FDSet
	// replaces its callback without changing the watched mask.
	Register(fd int, events gwthread.Event, cb Callback, ctx interface{}) error

	// Listen writes value's bits into fd's currently requested mask,
	// restricted to the bits set in mask. It is a no-op if fd is not
	// registered.
	Listen(fd int, mask, value gwthread.Event)

	// Unregister stops monitoring fd. Pending callbacks already being
	// delivered are not cancelled.
	Unregister(fd int)

	// Close stops the FDSet's goroutine and releases its resources.
	Close() error
}

// entry is the bookkeeping kept per registered descriptor.
type entry struct {
	fd   int
	mask gwthread.Event
	cb   Callback
	ctx  interface{}
}

// pollFDSet implements FDSet on top of POSIX poll(2) via
// golang.org/x/sys/unix, which is portable across every targeted OS
// (linux, darwin, the BSDs) without needing one epoll/kqueue backend per
// platform. A self-pipe wakes the blocked poll(2) call whenever the
// registration set changes.
type pollFDSet struct {
	mu      sync.Mutex
	entries map[int]*entry

	wakeR, wakeW int
	closeOnce    sync.Once
	closed       chan struct{}
	done         chan struct{}
}

var _ FDSet = (*pollFDSet)(nil)
