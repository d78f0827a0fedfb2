//go:build darwin

package pool

import (
	"net"

	"golang.org/x/sys/unix"
)

// peerCredentials retrieves the credentials of the process on the other
// end of a Unix domain socket connection via LOCAL_PEERCRED / getpeereid.
func peerCredentials(conn *net.UnixConn) (*PeerCredentials, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}

	var uid, gid uint32
	var pid int32
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		xucred, err := unix.GetsockoptXucred(int(fd), unix.SOL_LOCAL, unix.LOCAL_PEERCRED)
		if err != nil {
			sockErr = err
			return
		}
		uid = xucred.Uid
		if xucred.Ngroups > 0 {
			gid = xucred.Groups[0]
		}
		// Darwin's LOCAL_PEERCRED does not report the peer pid; it is left
		// zero rather than guessed at.
		pid = 0
	})
	if ctrlErr != nil {
		return nil, ctrlErr
	}
	if sockErr != nil {
		return nil, sockErr
	}

	return &PeerCredentials{UID: uid, GID: gid, PID: pid}, nil
}
