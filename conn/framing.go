package conn

import "github.com/kannelgo/timerconn/octstr"

const lineFeed = 10
const carriageReturn = 13

// ReadEverything returns all currently available bytes, or nil if none are
// available after one read attempt.
func (c *Connection) ReadEverything() []byte {
	c.lockIn()
	defer c.unlockIn()

	if c.unlockedInbufLen() == 0 {
		c.unlockedRead()
		if c.unlockedInbufLen() == 0 {
			return nil
		}
	}

	return c.unlockedGet(c.unlockedInbufLen()).Bytes()
}

// ReadFixed returns exactly length bytes, or nil if fewer than that are
// available after one read attempt.
func (c *Connection) ReadFixed(length int) []byte {
	c.lockIn()
	defer c.unlockIn()

	if c.unlockedInbufLen() < length {
		c.unlockedRead()
		if c.unlockedInbufLen() < length {
			return nil
		}
	}
	return c.unlockedGet(length).Bytes()
}

// ReadLine returns one line, without the trailing LF and without a
// preceding CR if one was present, or nil if no complete line is available
// after one read attempt. LF (byte 10) is searched for explicitly rather
// than relying on '\n', since this reads from a network connection where
// platform newline translation is not in play.
func (c *Connection) ReadLine() []byte {
	c.lockIn()
	defer c.unlockIn()

	pos := c.inbuf.SearchChar(lineFeed, c.inbufpos)
	if pos < 0 {
		c.unlockedRead()
		pos = c.inbuf.SearchChar(lineFeed, c.inbufpos)
		if pos < 0 {
			return nil
		}
	}

	result := c.unlockedGet(pos - c.inbufpos)

	// Skip the LF itself, which was left in the buffer.
	c.inbufpos++

	b := result.Bytes()
	if len(b) > 0 && b[len(b)-1] == carriageReturn {
		b = b[:len(b)-1]
	}
	return b
}

// ReadWithLen reads a frame consisting of a 4-byte big-endian length
// prefix followed by that many bytes, returning the payload, or nil if the
// frame is incomplete after one extra read attempt. A negative decoded
// length (the high bit set) is a protocol anomaly: it is logged as a
// warning, the 4 bytes are skipped, and parsing retries once within the
// same call.
func (c *Connection) ReadWithLen() []byte {
	c.lockIn()
	defer c.unlockIn()

	var lengthBuf [4]byte
	for try := 1; try <= 2; try++ {
		if try > 1 {
			c.unlockedRead()
		}

		for {
			if c.unlockedInbufLen() < 4 {
				break
			}

			c.inbuf.GetManyChars(lengthBuf[:], c.inbufpos, 4)
			length := int(octstr.DecodeNetworkLong(lengthBuf[:]))

			if length < 0 {
				c.logger.Warn("conn: read_withlen: got negative length, skipping")
				c.inbufpos += 4
				continue
			}

			if c.unlockedInbufLen()-4 < length {
				break
			}

			c.inbufpos += 4
			return c.unlockedGet(length).Bytes()
		}
	}

	return nil
}

// ReadPacket locates start, discarding everything before it (freeing that
// memory even if start is never found), then locates the first end after
// start and returns the inclusive slice. Returns nil if no complete packet
// is available after one extra read attempt.
func (c *Connection) ReadPacket(start, end byte) []byte {
	c.lockIn()
	defer c.unlockIn()

	for try := 1; try <= 2; try++ {
		if try > 1 {
			c.unlockedRead()
		}

		startPos := c.inbuf.SearchChar(start, c.inbufpos)
		if startPos < 0 {
			c.inbufpos = c.inbuf.Len()
			continue
		}
		c.inbufpos = startPos

		endPos := c.inbuf.SearchChar(end, c.inbufpos)
		if endPos < 0 {
			continue
		}

		return c.unlockedGet(endPos - startPos + 1).Bytes()
	}

	return nil
}
