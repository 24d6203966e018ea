// Package realm picks the address a connecting client should use to reach the realm.
package realm

import (
	"fmt"
	"net/netip"

	"github.com/nfrund/modhost/internal/config"
)

var privateNetworks = []struct {
	network, mask netip.Addr
}{
	{netip.MustParseAddr("10.0.0.0"), netip.MustParseAddr("255.0.0.0")},
	{netip.MustParseAddr("172.16.0.0"), netip.MustParseAddr("255.240.0.0")},
	{netip.MustParseAddr("192.168.0.0"), netip.MustParseAddr("255.255.0.0")},
}

// Realm is a game world endpoint reachable on a local and an external address.
type Realm struct {
	LocalAddress            netip.Addr
	ExternalAddress         netip.Addr
	LocalSubnetMask         netip.Addr
	Port                    uint16
	AnyPrivateClientIsLocal bool
}

// New builds a Realm from configuration.
func New(cfg config.Realm) (*Realm, error) {
	local, err := netip.ParseAddr(cfg.LocalAddress)
	if err != nil {
		return nil, fmt.Errorf("parse local address: %w", err)
	}
	external, err := netip.ParseAddr(cfg.ExternalAddress)
	if err != nil {
		return nil, fmt.Errorf("parse external address: %w", err)
	}
	mask, err := netip.ParseAddr(cfg.LocalSubnetMask)
	if err != nil {
		return nil, fmt.Errorf("parse local subnet mask: %w", err)
	}
	return &Realm{
		LocalAddress:            local.Unmap(),
		ExternalAddress:         external.Unmap(),
		LocalSubnetMask:         mask.Unmap(),
		Port:                    cfg.Port,
		AnyPrivateClientIsLocal: cfg.AnyPrivateClientIsLocal,
	}, nil
}

// AddressForClient returns the endpoint client should connect to.
//
// A loopback client talking to a loopback realm gets its own address back.
// Loopback, same-subnet and (when enabled) RFC 1918 clients get the local
// address. Everyone else gets the external address.
func (r *Realm) AddressForClient(client netip.Addr) netip.AddrPort {
	client = client.Unmap()

	var ip netip.Addr
	switch {
	case client.IsLoopback() && (r.LocalAddress.IsLoopback() || r.ExternalAddress.IsLoopback()):
		ip = client
	case client.IsLoopback() || r.isLocal(client) || r.isPrivate(client):
		ip = r.LocalAddress
	default:
		ip = r.ExternalAddress
	}
	return netip.AddrPortFrom(ip, r.Port)
}

func (r *Realm) isLocal(client netip.Addr) bool {
	return client.Is4() && r.LocalAddress.Is4() && InNetwork(r.LocalAddress, r.LocalSubnetMask, client)
}

func (r *Realm) isPrivate(client netip.Addr) bool {
	if !r.AnyPrivateClientIsLocal || !client.Is4() {
		return false
	}
	for _, n := range privateNetworks {
		if InNetwork(n.network, n.mask, client) {
			return true
		}
	}
	return false
}

// InNetwork reports whether addr lies in the IPv4 network given by network and mask.
func InNetwork(network, mask, addr netip.Addr) bool {
	if !network.Is4() || !mask.Is4() || !addr.Is4() {
		return false
	}
	n, m, a := network.As4(), mask.As4(), addr.As4()
	for i := range m {
		if n[i]&m[i] != a[i]&m[i] {
			return false
		}
	}
	return true
}
