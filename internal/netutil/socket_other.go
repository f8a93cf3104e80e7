//go:build !linux

package netutil

import (
	"net"

	"github.com/pkg/errors"
)

// bindAddress binds by IP on platforms that have no portable
// interface-binding syscall. An interface name with no resolvable
// address is an InterfaceError (spec.md §4.2: "a name on a platform
// that requires an IP").
func bindAddress(e Endpoint) (net.IP, error) {
	if e.Address != nil {
		return e.Address, nil
	}
	if e.Interface != "" {
		return nil, errors.Errorf("interface %q requires an explicit address on this platform", e.Interface)
	}
	return net.IPv4zero, nil
}

// bindInterface is a no-op outside Linux: the address passed to
// bindAddress already scoped the bind.
func bindInterface(conn *net.UDPConn, e Endpoint) error {
	return nil
}

func setSocketBroadcast(conn *net.UDPConn) error {
	return nil
}
