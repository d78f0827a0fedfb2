package pool

import (
	"bytes"

	"github.com/tkasuga/apppool/internal/framing"
)

// writeSessionProtocolRequest writes the worker request protocol body
// spec.md §6 describes — NUL-delimited key/value pairs — behind a 4-byte
// big-endian length header, reusing the same length-prefixed Framer the
// spawn-server handshake no longer needs now that it speaks array messages
// over internal/messagechannel.
func writeSessionProtocolRequest(conn *Connection, fields []string) error {
	var body bytes.Buffer
	for _, f := range fields {
		body.WriteString(f)
		body.WriteByte(0)
	}

	return framing.NewFramer(conn).WriteMessage(body.Bytes())
}
