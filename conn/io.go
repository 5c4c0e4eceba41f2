package conn

import (
	"syscall"

	"github.com/kannelgo/timerconn/fdset"
	"github.com/kannelgo/timerconn/gwthread"
	"github.com/kannelgo/timerconn/octstr"
)

// unlockedWrite sends as much data as can be sent without blocking,
// returning the number of bytes written or -1 on error. Caller must hold
// outlock.
func (c *Connection) unlockedWrite() int {
	pending := c.unlockedOutbufLen()
	if pending == 0 {
		return 0
	}

	n, err := c.outbuf.WriteDataFromOffsetToFD(fdWriter{c.fd}, c.outbufpos)
	if err != nil {
		return -1
	}
	c.outbufpos += n

	// Heuristic: discard the already-written prefix once it's more than
	// half the buffer, to keep the buffer small without moving data
	// around on every write.
	if c.outbufpos > c.outbuf.Len()/2 {
		c.outbuf.DeleteRange(0, c.outbufpos)
		c.outbufpos = 0
	}

	if c.registered != nil {
		c.unlockedRegisterPollout(c.unlockedOutbufLen() > 0)
	}

	return n
}

// unlockedTryWrite tries to empty the output buffer without blocking.
// Returns 0 for success, 1 if data remains buffered (either because it's
// still under the soft threshold or because the write didn't drain it),
// and -1 on error. Caller must hold outlock.
func (c *Connection) unlockedTryWrite() int {
	pending := c.unlockedOutbufLen()
	if pending == 0 {
		return 0
	}
	if pending < c.outputBuffering {
		return 1
	}
	if c.unlockedWrite() < 0 {
		return -1
	}
	if c.unlockedOutbufLen() > 0 {
		return 1
	}
	return 0
}

// unlockedRead reads whatever data is currently available, up to
// readChunkSize bytes. Caller must hold inlock.
func (c *Connection) unlockedRead() {
	if c.inbufpos > 0 {
		c.inbuf.DeleteRange(0, c.inbufpos)
		c.inbufpos = 0
	}

	var buf [readChunkSize]byte
	n, err := syscall.Read(c.fd, buf[:])
	if err != nil {
		if err == syscall.EINTR || err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			return
		}
		c.readError = true
		c.lastErr = err
		if c.registered != nil {
			c.unlockedRegisterPollin(false)
		}
		c.logger.WithError(err).WithField("fd", c.fd).Error("conn: error reading")
		return
	}

	if n == 0 {
		c.readEOF = true
		if c.registered != nil {
			c.unlockedRegisterPollin(false)
		}
		return
	}

	c.inbuf.AppendData(buf[:n])
}

// unlockedGet cuts length bytes from the front of the input buffer and
// returns them. The caller must have already ensured at least length bytes
// are available.
func (c *Connection) unlockedGet(length int) *octstr.Octstr {
	result := c.inbuf.CopySubstring(c.inbufpos, length)
	c.inbufpos += length
	return result
}

// unlockedRegisterPollin tells the fdset whether we want POLLIN, but only
// if the desired state differs from what's currently lodged, to avoid
// cross-goroutine synchronization with the poller when nothing changed.
// Caller must hold inlock and c.registered must be non-nil.
func (c *Connection) unlockedRegisterPollin(onoff bool) {
	if onoff && !c.listeningPollin {
		c.listeningPollin = true
		c.registered.Listen(c.fd, gwthread.POLLIN, gwthread.POLLIN)
	} else if !onoff && c.listeningPollin {
		c.listeningPollin = false
		c.registered.Listen(c.fd, gwthread.POLLIN, 0)
	}
}

// unlockedRegisterPollout is unlockedRegisterPollin's write-side twin.
// Caller must hold outlock and c.registered must be non-nil.
func (c *Connection) unlockedRegisterPollout(onoff bool) {
	if onoff && !c.listeningPollout {
		c.listeningPollout = true
		c.registered.Listen(c.fd, gwthread.POLLOUT, gwthread.POLLOUT)
	} else if !onoff && c.listeningPollout {
		c.listeningPollout = false
		c.registered.Listen(c.fd, gwthread.POLLOUT, 0)
	}
}

// pollCallback is what's handed to the FDSet as the per-fd callback. It
// never invokes the user callback while a connection lock is held.
func pollCallback(c *Connection) fdset.Callback {
	return func(fd int, revents gwthread.Event, ctx interface{}) {
		if revents&gwthread.POLLOUT != 0 {
			c.lockOut()
			c.unlockedWrite()
			c.unlockOut()
		}

		if revents&gwthread.POLLIN != 0 {
			c.lockIn()
			c.unlockedRead()
			c.unlockIn()
			if c.callback != nil {
				c.callback(c, c.callbackData)
			}
		}
	}
}

// Register associates this connection with fdset, invoking cb(c, data)
// from the fdset's own goroutine whenever there is data to read. Returns 0
// on success, including re-registering to the same fdset (which only
// replaces the callback), or -1 if already registered to a different
// fdset, or if the fd has been closed.
func (c *Connection) Register(fs fdset.FDSet, cb Callback, data interface{}) int {
	if c.fd < 0 {
		return -1
	}

	c.lockOut()
	c.lockIn()
	defer c.unlockIn()
	defer c.unlockOut()

	if c.registered == fs {
		c.callback = cb
		c.callbackData = data
		return 0
	}
	if c.registered != nil {
		return -1
	}

	var events gwthread.Event
	if !c.readEOF && !c.readError {
		events |= gwthread.POLLIN
	}
	if c.unlockedOutbufLen() > 0 {
		events |= gwthread.POLLOUT
	}

	c.registered = fs
	c.callback = cb
	c.callbackData = data
	c.listeningPollin = events&gwthread.POLLIN != 0
	c.listeningPollout = events&gwthread.POLLOUT != 0

	if err := fs.Register(c.fd, events, pollCallback(c), nil); err != nil {
		c.registered = nil
		c.callback = nil
		c.callbackData = nil
		return -1
	}
	return 0
}

// Unregister clears the connection's poll registration; no further
// callbacks are delivered.
func (c *Connection) Unregister() {
	if c.fd < 0 {
		return
	}

	c.lockOut()
	c.lockIn()
	defer c.unlockIn()
	defer c.unlockOut()

	if c.registered != nil {
		c.registered.Unregister(c.fd)
		c.registered = nil
		c.callback = nil
		c.callbackData = nil
		c.listeningPollin = false
		c.listeningPollout = false
	}
}

// Wait blocks until there is progress to report, the timeout (in seconds;
// negative means infinite) expires, or an error occurs. Returns 0 for
// progress, 1 for timeout, -1 for error.
func (c *Connection) Wait(seconds float64) int {
	c.lockOut()
	ret := c.unlockedWrite()
	if ret < 0 {
		c.unlockOut()
		return -1
	}
	if ret > 0 {
		// We did something useful; no need to poll or wait now.
		c.unlockOut()
		return 0
	}

	fd := c.fd
	var events gwthread.Event
	if c.unlockedOutbufLen() > 0 {
		events |= gwthread.POLLOUT
	}
	c.unlockOut()

	c.lockIn()
	if (!c.readEOF && !c.readError) || events == 0 {
		events |= gwthread.POLLIN
	}
	c.unlockIn()

	revents, err := gwthread.PollFD(fd, events, seconds)
	if err != nil {
		if gwthread.IsInterrupted(err) {
			return 0
		}
		c.logger.WithError(err).WithField("fd", fd).Error("conn: wait: poll failed")
		return -1
	}
	if revents == 0 {
		return 1
	}
	if revents&gwthread.POLLNVAL != 0 {
		c.logger.WithField("fd", fd).Error("conn: wait: fd not open")
		return -1
	}

	if revents&(gwthread.POLLERR|gwthread.POLLHUP) != 0 {
		// We may no longer be certain the error persists, since the lock
		// was released while we waited; read anyway to record it.
		c.lockIn()
		c.unlockedRead()
		c.unlockIn()
		return -1
	}

	if revents&gwthread.POLLOUT != 0 {
		c.lockOut()
		c.unlockedWrite()
		c.unlockOut()
	}

	if revents&gwthread.POLLIN != 0 {
		c.lockIn()
		c.unlockedRead()
		c.unlockIn()
	}

	return 0
}

// Flush blocks until the output buffer is completely drained or the wait
// is interrupted. Returns 0 if drained, 1 if interrupted, -1 on error.
func (c *Connection) Flush() int {
	c.lockOut()
	ret := c.unlockedWrite()
	if ret < 0 {
		c.unlockOut()
		return -1
	}

	for c.unlockedOutbufLen() != 0 {
		fd := c.fd
		c.unlockOut()

		revents, err := gwthread.PollFD(fd, gwthread.POLLOUT, -1)
		if err != nil {
			if gwthread.IsInterrupted(err) {
				return 1
			}
			c.logger.WithError(err).WithField("fd", fd).Error("conn: flush: poll failed")
			return -1
		}
		if revents == 0 {
			return 1 // woken up
		}
		if revents&gwthread.POLLNVAL != 0 {
			c.logger.WithField("fd", fd).Error("conn: flush: fd not open")
			return -1
		}

		c.lockOut()
		if revents&(gwthread.POLLOUT|gwthread.POLLERR|gwthread.POLLHUP) != 0 {
			ret = c.unlockedWrite()
			if ret < 0 {
				c.unlockOut()
				return -1
			}
		}
	}

	c.unlockOut()
	return 0
}

// Write appends data to the output buffer and tries a non-blocking write.
// Returns 0 if fully sent, 1 if buffered, -1 on error.
func (c *Connection) Write(data []byte) int {
	c.lockOut()
	defer c.unlockOut()
	c.outbuf.AppendData(data)
	return c.unlockedTryWrite()
}

// WriteData is an alias for Write kept for parity with conn_write_data's
// distinct name in the source, where it exists to take a raw pointer and
// length instead of an Octstr.
func (c *Connection) WriteData(data []byte, n int) int {
	return c.Write(data[:n])
}

// WriteWithLen prefixes data with its length as a 4-byte network-order
// integer, then behaves like Write.
func (c *Connection) WriteWithLen(data []byte) int {
	c.lockOut()
	defer c.unlockOut()
	c.outbuf.AppendData(octstr.EncodeNetworkLong(uint32(len(data))))
	c.outbuf.AppendData(data)
	return c.unlockedTryWrite()
}

// fdWriter adapts a raw fd to io.Writer for octstr.WriteDataFromOffsetToFD.
type fdWriter struct {
	fd int
}

func (w fdWriter) Write(p []byte) (int, error) {
	n, err := syscall.Write(w.fd, p)
	if err != nil {
		if err == syscall.EINTR || err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			return 0, nil
		}
		return n, err
	}
	return n, nil
}
