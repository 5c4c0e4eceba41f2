package conn

import (
	"net"
	"testing"
	"time"

	"github.com/kannelgo/timerconn/fdset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tcpPipe returns two connected, wrapped Connections backed by a real TCP
// loopback socket pair.
func tcpPipe(t *testing.T) (client, server *Connection) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverCh := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		require.NoError(t, err)
		serverCh <- c
	}()

	clientNC, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	serverNC := <-serverCh

	clientFD, err := dupFD(clientNC)
	require.NoError(t, err)
	clientNC.Close()

	serverFD, err := dupFD(serverNC)
	require.NoError(t, err)
	serverNC.Close()

	client, err = WrapFD(clientFD)
	require.NoError(t, err)
	server, err = WrapFD(serverFD)
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Destroy()
		server.Destroy()
	})

	return client, server
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWriteWithLenRoundTrip(t *testing.T) {
	client, server := tcpPipe(t)

	payload := []byte("hello, gateway")
	ret := client.WriteWithLen(payload)
	assert.GreaterOrEqual(t, ret, 0)

	var got []byte
	waitFor(t, func() bool {
		got = server.ReadWithLen()
		return got != nil
	})
	assert.Equal(t, payload, got)
}

func TestWriteReadFixedRoundTrip(t *testing.T) {
	client, server := tcpPipe(t)

	payload := []byte("exact bytes")
	client.Write(payload)

	var got []byte
	waitFor(t, func() bool {
		got = server.ReadFixed(len(payload))
		return got != nil
	})
	assert.Equal(t, payload, got)
}

func TestReadLineStripsCRLF(t *testing.T) {
	client, server := tcpPipe(t)

	client.Write([]byte("HELLO\r\n"))

	var got []byte
	waitFor(t, func() bool {
		got = server.ReadLine()
		return got != nil
	})
	assert.Equal(t, "HELLO", string(got))
}

func TestReadLineSplitAcrossWrites(t *testing.T) {
	client, server := tcpPipe(t)

	client.Write([]byte("abc\ndef"))

	var first []byte
	waitFor(t, func() bool {
		first = server.ReadLine()
		return first != nil
	})
	assert.Equal(t, "abc", string(first))

	assert.Nil(t, server.ReadLine())

	client.Write([]byte("\n"))
	var second []byte
	waitFor(t, func() bool {
		second = server.ReadLine()
		return second != nil
	})
	assert.Equal(t, "def", string(second))
}

func TestReadWithLenRecoversFromNegativeLength(t *testing.T) {
	client, server := tcpPipe(t)

	var frame []byte
	frame = append(frame, 0xFF, 0xFF, 0xFF, 0xFF) // negative length
	frame = append(frame, 0x00, 0x00, 0x00, 0x02) // length 2
	frame = append(frame, 'o', 'k')
	client.Write(frame)

	var got []byte
	waitFor(t, func() bool {
		got = server.ReadWithLen()
		return got != nil
	})
	assert.Equal(t, "ok", string(got))
}

func TestReadPacketDiscardsPreamble(t *testing.T) {
	client, server := tcpPipe(t)

	client.Write([]byte("garbage\x02payload\x03more"))

	var got []byte
	waitFor(t, func() bool {
		got = server.ReadPacket(0x02, 0x03)
		return got != nil
	})
	assert.Equal(t, "\x02payload\x03", string(got))
}

func TestBufferInvariants(t *testing.T) {
	client, server := tcpPipe(t)

	client.Write([]byte("some data"))
	waitFor(t, func() bool {
		server.ReadFixed(1 << 20) // forces a read attempt without consuming
		return server.InbufLen() > 0
	})

	server.lockIn()
	assert.LessOrEqual(t, server.inbufpos, server.inbuf.Len())
	server.unlockIn()

	client.lockOut()
	assert.LessOrEqual(t, client.outbufpos, client.outbuf.Len())
	client.unlockOut()
}

func TestClaimTwicePanics(t *testing.T) {
	client, _ := tcpPipe(t)
	client.Claim()
	assert.Panics(t, func() { client.Claim() })
}

func TestEOFStopsFurtherReads(t *testing.T) {
	client, server := tcpPipe(t)

	client.Destroy()

	waitFor(t, func() bool {
		server.ReadEverything()
		return server.Eof()
	})
	assert.Nil(t, server.ReadEverything())
}

func TestRegisterReplacesCallbackOnSameFDSet(t *testing.T) {
	fs, err := fdset.New(nil)
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })

	client, _ := tcpPipe(t)

	ret := client.Register(fs, func(c *Connection, data interface{}) {}, nil)
	assert.Equal(t, 0, ret)

	ret = client.Register(fs, func(c *Connection, data interface{}) {}, "second")
	assert.Equal(t, 0, ret, "re-registering to the same fdset must succeed")
}

func TestRegisterToSecondFDSetFails(t *testing.T) {
	fs1, err := fdset.New(nil)
	require.NoError(t, err)
	t.Cleanup(func() { fs1.Close() })
	fs2, err := fdset.New(nil)
	require.NoError(t, err)
	t.Cleanup(func() { fs2.Close() })

	client, _ := tcpPipe(t)

	require.Equal(t, 0, client.Register(fs1, func(c *Connection, data interface{}) {}, nil))
	assert.Equal(t, -1, client.Register(fs2, func(c *Connection, data interface{}) {}, nil))
}
