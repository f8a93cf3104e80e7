//go:build linux

package netutil

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// bindAddress returns the wildcard address on Linux when an interface
// name is given: interface binding is applied right after the bind via
// SO_BINDTODEVICE in bindInterface, so the listen address itself
// doesn't need to name an IP. With only an address given, it returns
// that address.
func bindAddress(e Endpoint) (net.IP, error) {
	if e.Interface == "" && e.Address != nil {
		return e.Address, nil
	}
	return net.IPv4zero, nil
}

// bindInterface applies SO_BINDTODEVICE when an interface name was
// given, the platform-specific half of spec.md §4.2's "applies
// interface binding when the platform supports it".
func bindInterface(conn *net.UDPConn, e Endpoint) error {
	if e.Interface == "" {
		return nil
	}

	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.BindToDevice(int(fd), e.Interface)
	})
	if err != nil {
		return err
	}
	if sockErr != nil {
		return &net.OpError{Op: "bindtodevice", Net: "udp", Err: sockErr}
	}
	return nil
}

// setSocketBroadcast is kept as a named hook for completeness; Linux
// enables broadcast delivery by default once bound to INADDR_ANY plus
// SO_BROADCAST, which net.ListenUDP already arranges for us via the
// raw socket option below.
func setSocketBroadcast(conn *net.UDPConn) error {
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
