// Package conn implements Connection, a non-blocking byte-oriented I/O
// endpoint with its own input and output buffers, independent read/write
// locking, and optional registration with an fdset.FDSet poller — the Go
// shape of gwlib/conn.c's Connection type.
package conn

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/kannelgo/timerconn/fdset"
	"github.com/kannelgo/timerconn/octstr"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// defaultOutputBuffering matches conn.c's DEFAULT_OUTPUT_BUFFERING: 0, so
// that callers don't have to think about flush timing unless they opt in.
const defaultOutputBuffering = 0

// readChunkSize is how much unlockedRead asks the kernel for per call.
const readChunkSize = 4096

// Callback is invoked from an FDSet's own goroutine when a registered
// Connection has data ready to read. It is never invoked while any
// Connection lock is held.
type Callback func(c *Connection, data interface{})

// Connection wraps a non-blocking file descriptor with an input buffer, an
// output buffer, and independent locks for the two directions so readers
// and writers never wait on each other. When both locks are required
// (registration changes), outlock is always acquired first.
type Connection struct {
	inlock  sync.Mutex
	outlock sync.Mutex

	claimed atomic.Bool

	// fd is read-only after wrap.
	fd int

	// Protected by outlock.
	outbuf           *octstr.Octstr
	outbufpos        int
	outputBuffering  int
	listeningPollout bool

	// Protected by inlock.
	inbuf           *octstr.Octstr
	inbufpos        int
	readEOF         bool
	readError       bool
	lastErr         error
	listeningPollin bool

	// Protected by both locks when updating; either alone suffices to
	// read.
	registered   fdset.FDSet
	callback     Callback
	callbackData interface{}

	logger *logrus.Logger
}

// Option configures a Connection at construction.
type Option func(*Connection)

// WithLogger overrides the default (logrus.StandardLogger()) logger.
func WithLogger(l *logrus.Logger) Option {
	return func(c *Connection) { c.logger = l }
}

// WithOutputBuffering sets the initial soft output-buffering threshold.
func WithOutputBuffering(size int) Option {
	return func(c *Connection) { c.outputBuffering = size }
}

// OpenTCP dials host:port and wraps the resulting socket. The connect
// itself is blocking — making it non-blocking is an explicit, unresolved
// TODO carried over from conn.c ("TODO: have conn_open_tcp do a
// non-blocking connect()") — only the connection that results is
// non-blocking.
func OpenTCP(host string, port int, opts ...Option) (*Connection, error) {
	nc, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Wrap(err, "conn: connect")
	}

	fd, err := dupFD(nc)
	if err != nil {
		nc.Close()
		return nil, err
	}
	nc.Close() // the duplicated fd owns the socket now

	return WrapFD(fd, opts...)
}

// WrapFD takes ownership of fd, switching it to non-blocking mode, and
// returns a new Connection. It returns an error if fd cannot be made
// non-blocking.
func WrapFD(fd int, opts ...Option) (*Connection, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, errors.Wrap(err, "conn: set non-blocking")
	}

	c := &Connection{
		fd:              fd,
		outbuf:          octstr.New(nil),
		inbuf:           octstr.New(nil),
		outputBuffering: defaultOutputBuffering,
		logger:          logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// dupFD duplicates the file descriptor underlying nc so the caller can
// close nc's own io.Closer while keeping the socket alive, mirroring
// gaio's dupconn helper in aio_generic.go.
func dupFD(nc net.Conn) (int, error) {
	sc, ok := nc.(interface {
		SyscallConn() (syscall.RawConn, error)
	})
	if !ok {
		return -1, errors.New("conn: connection type does not support SyscallConn")
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return -1, errors.Wrap(err, "conn: SyscallConn")
	}

	var newfd int
	var dupErr error
	ctrlErr := rc.Control(func(fd uintptr) {
		newfd, dupErr = unix.Dup(int(fd))
	})
	if ctrlErr != nil {
		return -1, errors.Wrap(ctrlErr, "conn: dup control")
	}
	if dupErr != nil {
		return -1, errors.Wrap(dupErr, "conn: dup")
	}
	return newfd, nil
}

// Destroy makes a best-effort attempt to flush any remaining output,
// closes the fd, and frees buffers. A close error is logged, never
// returned — mirroring conn.c's conn_destroy, which treats it the same
// way (a noted TODO: "unlocked_close() on error").
func (c *Connection) Destroy() {
	if c.registered != nil {
		c.registered.Unregister(c.fd)
	}

	if c.fd >= 0 {
		c.unlockedWrite()
		if err := syscall.Close(c.fd); err != nil {
			c.logger.WithError(err).WithField("fd", c.fd).Error("conn: error on close")
		}
		c.fd = -1
	}
}

// Claim declares that exactly one goroutine will use this connection from
// now on; subsequent lock operations become no-ops. Claiming an
// already-claimed connection is a programmer error and panics, matching
// conn.c's "Connection is being claimed twice!" panic.
//
// Unlike conn.c, this port does not assert that later calls come from the
// claiming OS thread — Go has no equivalent to gwthread_self() for
// arbitrary goroutines, so the assertion is elided and callers are simply
// trusted to honor the single-owner contract, as design notes for this
// rewrite anticipate.
func (c *Connection) Claim() {
	if !c.claimed.CompareAndSwap(false, true) {
		panic("conn: connection is being claimed twice")
	}
}

func (c *Connection) lockIn() {
	if !c.claimed.Load() {
		c.inlock.Lock()
	}
}

func (c *Connection) unlockIn() {
	if !c.claimed.Load() {
		c.inlock.Unlock()
	}
}

func (c *Connection) lockOut() {
	if !c.claimed.Load() {
		c.outlock.Lock()
	}
}

func (c *Connection) unlockOut() {
	if !c.claimed.Load() {
		c.outlock.Unlock()
	}
}

// OutbufLen returns the number of bytes currently unwritten in the output
// buffer.
func (c *Connection) OutbufLen() int {
	c.lockOut()
	defer c.unlockOut()
	return c.unlockedOutbufLen()
}

// InbufLen returns the number of bytes currently unread in the input
// buffer.
func (c *Connection) InbufLen() int {
	c.lockIn()
	defer c.unlockIn()
	return c.unlockedInbufLen()
}

// Eof reports whether end-of-file has been seen on this connection.
func (c *Connection) Eof() bool {
	c.lockIn()
	defer c.unlockIn()
	return c.readEOF
}

// ReadError reports whether a read error has been seen on this connection.
func (c *Connection) ReadError() bool {
	c.lockIn()
	defer c.unlockIn()
	return c.readError
}

// LastError returns the most recent I/O error observed, if any. It is not
// part of conn.c's own 0/1/-1 return-code contract; it exists only to
// give callers more detail than the sticky booleans expose.
func (c *Connection) LastError() error {
	c.lockIn()
	defer c.unlockIn()
	return c.lastErr
}

// SetOutputBuffering updates the soft output-buffering threshold. If the
// new threshold is lower than before, a non-blocking write is attempted
// immediately in case enough data is now waiting to cross it.
func (c *Connection) SetOutputBuffering(size int) {
	c.lockOut()
	defer c.unlockOut()
	c.outputBuffering = size
	c.unlockedTryWrite()
}

func (c *Connection) unlockedOutbufLen() int {
	return c.outbuf.Len() - c.outbufpos
}

func (c *Connection) unlockedInbufLen() int {
	return c.inbuf.Len() - c.inbufpos
}
