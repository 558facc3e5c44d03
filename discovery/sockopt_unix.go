//go:build unix

package discovery

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// controlBroadcast enables address reuse and broadcast on a UDP socket
// before bind/connect, so several processes on one host can share the
// discovery port and datagrams may target the broadcast address.
func controlBroadcast(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		if sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); sockErr != nil {
			return
		}
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
