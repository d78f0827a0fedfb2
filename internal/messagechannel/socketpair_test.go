package messagechannel

import "golang.org/x/sys/unix"

func newSocketPairFDs() ([2]int, error) {
	return unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
}

func unixClose(fd int) {
	_ = unix.Close(fd)
}
