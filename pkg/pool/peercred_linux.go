//go:build linux

package pool

import (
	"net"

	"golang.org/x/sys/unix"
)

// peerCredentials retrieves the credentials of the process on the other
// end of a Unix domain socket connection via SO_PEERCRED.
func peerCredentials(conn *net.UnixConn) (*PeerCredentials, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}

	var ucred *unix.Ucred
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		ucred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctrlErr != nil {
		return nil, ctrlErr
	}
	if sockErr != nil {
		return nil, sockErr
	}

	return &PeerCredentials{UID: ucred.Uid, GID: ucred.Gid, PID: ucred.Pid}, nil
}
