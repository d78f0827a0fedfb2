// Package messagechannel implements the array-message / scalar-message /
// file-descriptor-passing wire protocol spec.md §6 describes for talking to
// the spawn server: a uint16 byte-count header followed by NUL-delimited
// fields for array messages, a uint32 byte-count header followed by raw
// bytes for scalar messages, and exactly one SCM_RIGHTS control message
// carrying exactly one fd for descriptor passing.
package messagechannel

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"golang.org/x/sys/unix"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const delimiter = 0

// validateUTF8 rejects malformed UTF-8 before a field is framed, using
// golang.org/x/text's UTF-8 transformer rather than a hand-rolled byte
// walk. The decoder substitutes ill-formed sequences rather than erroring,
// so a mismatch between input and decoded output is the actual signal.
func validateUTF8(s string) error {
	decoded, _, err := transform.String(unicode.UTF8.NewDecoder(), s)
	if err != nil {
		return err
	}
	if decoded != s {
		return fmt.Errorf("contains ill-formed UTF-8 sequences")
	}
	return nil
}

// maxArraySize bounds a single array message's total field-byte count,
// matching the uint16 wire width (65535) the original format uses.
const maxArraySize = 1<<16 - 1

// Channel wraps a Unix domain socket connection with the array/scalar/fd
// message framing. It is not safe for concurrent use by multiple
// goroutines on the same direction (read vs write may run concurrently).
type Channel struct {
	conn *net.UnixConn
	r    *bufio.Reader
}

// New wraps an already-connected Unix domain socket.
func New(conn *net.UnixConn) *Channel {
	return &Channel{conn: conn, r: bufio.NewReaderSize(conn, 8*1024)}
}

// WriteArray sends an array message: the given fields must contain no NUL
// byte and must be valid UTF-8, matching spec.md's domain-stack field
// validation requirement.
func (c *Channel) WriteArray(fields ...string) error {
	var size int
	for _, f := range fields {
		if err := validateUTF8(f); err != nil {
			return fmt.Errorf("messagechannel: field %q is not valid UTF-8: %w", f, err)
		}
		for i := 0; i < len(f); i++ {
			if f[i] == delimiter {
				return fmt.Errorf("messagechannel: field %q contains a NUL byte", f)
			}
		}
		size += len(f) + 1
	}
	if size > maxArraySize {
		return fmt.Errorf("messagechannel: array message of %d bytes exceeds max %d", size, maxArraySize)
	}

	buf := make([]byte, 2, 2+size)
	binary.BigEndian.PutUint16(buf, uint16(size))
	for _, f := range fields {
		buf = append(buf, f...)
		buf = append(buf, delimiter)
	}
	_, err := c.conn.Write(buf)
	return err
}

// ReadArray reads one array message and splits it on NUL into fields.
func (c *Channel) ReadArray() ([]string, error) {
	var header [2]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint16(header[:])

	buf := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(c.r, buf); err != nil {
			return nil, err
		}
	}

	var fields []string
	start := 0
	for i, b := range buf {
		if b == delimiter {
			fields = append(fields, string(buf[start:i]))
			start = i + 1
		}
	}
	return fields, nil
}

// WriteScalar sends a scalar message: a uint32 byte-count header followed
// by the raw payload, unconstrained by NUL or UTF-8.
func (c *Channel) WriteScalar(data []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := c.conn.Write(header[:]); err != nil {
		return err
	}
	_, err := c.conn.Write(data)
	return err
}

// ReadScalar reads one scalar message.
func (c *Channel) ReadScalar() ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	buf := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(c.r, buf); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// WriteFileDescriptor passes fd over the underlying Unix socket via exactly
// one SCM_RIGHTS control message, with a single NUL byte in the data
// vector per spec.md §6 ("some kernels reject empty iovecs").
func (c *Channel) WriteFileDescriptor(fd int) error {
	rights := unix.UnixRights(fd)
	raw, err := c.conn.SyscallConn()
	if err != nil {
		return err
	}
	var sendErr error
	ctrlErr := raw.Control(func(sysfd uintptr) {
		sendErr = unix.Sendmsg(int(sysfd), []byte{0}, rights, nil, 0)
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return sendErr
}

// ReadFileDescriptor receives exactly one file descriptor sent by
// WriteFileDescriptor.
func (c *Channel) ReadFileDescriptor() (int, error) {
	raw, err := c.conn.SyscallConn()
	if err != nil {
		return -1, err
	}

	buf := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(4))
	var n, oobn int
	var recvErr error
	ctrlErr := raw.Control(func(sysfd uintptr) {
		n, oobn, _, _, recvErr = unix.Recvmsg(int(sysfd), buf, oob, 0)
	})
	if ctrlErr != nil {
		return -1, ctrlErr
	}
	if recvErr != nil {
		return -1, recvErr
	}
	if n == 0 {
		return -1, io.EOF
	}

	cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return -1, fmt.Errorf("messagechannel: failed to parse control message: %w", err)
	}
	if len(cmsgs) != 1 {
		return -1, fmt.Errorf("messagechannel: expected exactly one control message, got %d", len(cmsgs))
	}
	fds, err := unix.ParseUnixRights(&cmsgs[0])
	if err != nil {
		return -1, fmt.Errorf("messagechannel: failed to parse passed rights: %w", err)
	}
	if len(fds) != 1 {
		return -1, fmt.Errorf("messagechannel: expected exactly one file descriptor, got %d", len(fds))
	}
	return fds[0], nil
}

// Close closes the underlying connection.
func (c *Channel) Close() error {
	return c.conn.Close()
}
