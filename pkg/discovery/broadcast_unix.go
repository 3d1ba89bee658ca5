//go:build !windows

package discovery

import (
	"net"
	"syscall"
)

// enableBroadcast sets SO_BROADCAST on conn's underlying file descriptor.
// Most platforms permit sending to a broadcast address without it, but
// Linux enforces it strictly, so it's set explicitly rather than relied
// upon implicitly.
func enableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
