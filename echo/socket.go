//go:build linux

package echo

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// listenTCP creates a non-blocking IPv4 listening socket.
func listenTCP(addr string, port, backlog int) (int, error) {
	ip := net.ParseIP(addr).To4()
	if ip == nil {
		return -1, fmt.Errorf("listen address %q: not an IPv4 address", addr)
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := setReuseAddr(fd); err != nil {
		_ = closeSocket(fd)
		return -1, fmt.Errorf("setsockopt: %w", err)
	}
	socketAddr := unix.SockaddrInet4{Port: port}
	copy(socketAddr.Addr[:], ip)
	if err := unix.Bind(fd, &socketAddr); err != nil {
		_ = closeSocket(fd)
		return -1, fmt.Errorf("bind %s:%d: %w", addr, port, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = closeSocket(fd)
		return -1, fmt.Errorf("listen: %w", err)
	}
	return fd, nil
}

// acceptTCPConn accepts a pending connection as a non-blocking socket.
func acceptTCPConn(fd int) (int, error) {
	nfd, _, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, err
	}
	return nfd, nil
}

func localPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, err
	}
	if sa4, ok := sa.(*unix.SockaddrInet4); ok {
		return sa4.Port, nil
	}
	return 0, fmt.Errorf("unexpected socket address %T", sa)
}

func setReuseAddr(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
}

func closeSocket(fd int) error {
	return unix.Close(fd)
}

func isTemporary(err error) bool {
	return err == unix.EAGAIN || err == unix.EINTR
}
