package messagechannel

import (
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func socketPair(t *testing.T) (*Channel, *Channel) {
	t.Helper()
	a, b, err := socketpair()
	require.NoError(t, err)
	return New(a), New(b)
}

func socketpair() (*net.UnixConn, *net.UnixConn, error) {
	fds, err := newSocketPairFDs()
	if err != nil {
		return nil, nil, err
	}
	fa := os.NewFile(uintptr(fds[0]), "")
	fb := os.NewFile(uintptr(fds[1]), "")
	ca, err := net.FileConn(fa)
	if err != nil {
		return nil, nil, err
	}
	cb, err := net.FileConn(fb)
	if err != nil {
		return nil, nil, err
	}
	_ = fa.Close()
	_ = fb.Close()
	return ca.(*net.UnixConn), cb.(*net.UnixConn), nil
}

func TestArrayMessageRoundTrip(t *testing.T) {
	a, b := socketPair(t)
	defer a.Close()
	defer b.Close()

	fields := []string{"spawn_application", "/var/apps/demo", "deploy", "deploy"}
	require.NoError(t, a.WriteArray(fields...))

	got, err := b.ReadArray()
	require.NoError(t, err)
	assert.Equal(t, fields, got)
}

func TestArrayMessageRejectsNUL(t *testing.T) {
	a, b := socketPair(t)
	defer a.Close()
	defer b.Close()

	err := a.WriteArray("bad\x00field")
	assert.Error(t, err)
}

func TestScalarMessageRoundTrip(t *testing.T) {
	a, b := socketPair(t)
	defer a.Close()
	defer b.Close()

	payload := []byte("arbitrary bytes \x00 with a NUL in the middle")
	require.NoError(t, a.WriteScalar(payload))

	got, err := b.ReadScalar()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFileDescriptorRoundTrip(t *testing.T) {
	a, b := socketPair(t)
	defer a.Close()
	defer b.Close()

	tmp, err := os.CreateTemp(t.TempDir(), "fd-pass-*")
	require.NoError(t, err)
	defer tmp.Close()

	require.NoError(t, a.WriteFileDescriptor(int(tmp.Fd())))

	fd, err := b.ReadFileDescriptor()
	require.NoError(t, err)
	defer unixClose(fd)
	assert.Greater(t, fd, -1)
}
