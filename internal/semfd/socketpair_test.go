package semfd

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// socketpair and fdToUnixConn are small test helpers for exercising
// SendFDs/ReceiveFDs over a real UNIX domain socket pair instead of mocking
// net.UnixConn.
func socketpair() ([2]int, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return [2]int{}, fmt.Errorf("socketpair: %w", err)
	}
	return [2]int{fds[0], fds[1]}, nil
}

func fdToUnixConn(fd int) (*net.UnixConn, error) {
	f := os.NewFile(uintptr(fd), "socketpair")
	c, err := net.FileConn(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("fileconn: %w", err)
	}
	f.Close() // FileConn dup'd the descriptor
	uc, ok := c.(*net.UnixConn)
	if !ok {
		c.Close()
		return nil, fmt.Errorf("not a unix conn")
	}
	return uc, nil
}
