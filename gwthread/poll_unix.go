//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package gwthread

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Event mirrors the POSIX poll(2) bitmask the connection core reasons
// about. Values match unix.POLLIN etc. directly so callers can pass them
// through without translation.
type Event int16

const (
	POLLIN   Event = unix.POLLIN
	POLLOUT  Event = unix.POLLOUT
	POLLERR  Event = unix.POLLERR
	POLLHUP  Event = unix.POLLHUP
	POLLNVAL Event = unix.POLLNVAL
)

// PollFD polls a single file descriptor for mask, blocking for up to
// seconds (a negative value means block indefinitely), and returns the
// revents bitmask poll(2) reported. EINTR is surfaced as (0, err) with err
// wrapping unix.EINTR so callers can special-case it the way conn_wait and
// conn_flush do.
func PollFD(fd int, mask Event, seconds float64) (Event, error) {
	timeout := -1
	if seconds >= 0 {
		timeout = int(seconds * 1000)
	}

	fds := []unix.PollFd{{Fd: int32(fd), Events: int16(mask)}}
	n, err := unix.Poll(fds, timeout)
	if err != nil {
		return 0, errors.Wrap(err, "gwthread: poll failed")
	}
	if n == 0 {
		return 0, nil
	}
	return Event(fds[0].Revents), nil
}

// IsInterrupted reports whether err is the wrapped EINTR that PollFD can
// return.
func IsInterrupted(err error) bool {
	return errors.Is(err, unix.EINTR)
}
