//go:build windows

package discovery

import "net"

// enableBroadcast is a no-op on Windows; golang.org/x/net/ipv4 style
// socket option plumbing isn't worth the extra dependency for a platform
// the fabric doesn't target.
func enableBroadcast(conn *net.UDPConn) error {
	return nil
}
