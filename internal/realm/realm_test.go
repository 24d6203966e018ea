package realm

import (
	"net/netip"
	"testing"

	"github.com/nfrund/modhost/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRealm(t *testing.T, local, external string, anyPrivate bool) *Realm {
	t.Helper()
	r, err := New(config.Realm{
		LocalAddress:            local,
		ExternalAddress:         external,
		LocalSubnetMask:         "255.255.255.0",
		Port:                    8085,
		AnyPrivateClientIsLocal: anyPrivate,
	})
	require.NoError(t, err)
	return r
}

func TestAddressForClient(t *testing.T) {
	tests := []struct {
		name       string
		local      string
		external   string
		anyPrivate bool
		client     string
		want       string
	}{
		{"loopback client and loopback realm", "127.0.0.1", "203.0.113.7", false, "127.0.0.2", "127.0.0.2:8085"},
		{"loopback client and lan realm", "192.168.1.10", "203.0.113.7", false, "127.0.0.1", "192.168.1.10:8085"},
		{"same subnet", "192.168.1.10", "203.0.113.7", false, "192.168.1.77", "192.168.1.10:8085"},
		{"other subnet", "192.168.1.10", "203.0.113.7", false, "192.168.2.77", "203.0.113.7:8085"},
		{"private allowed", "192.168.1.10", "203.0.113.7", true, "10.4.5.6", "192.168.1.10:8085"},
		{"private 172.16/12", "192.168.1.10", "203.0.113.7", true, "172.20.0.1", "192.168.1.10:8085"},
		{"outside 172.16/12", "192.168.1.10", "203.0.113.7", true, "172.32.0.1", "203.0.113.7:8085"},
		{"private not allowed", "192.168.1.10", "203.0.113.7", false, "10.4.5.6", "203.0.113.7:8085"},
		{"internet client", "192.168.1.10", "203.0.113.7", true, "198.51.100.1", "203.0.113.7:8085"},
		{"mapped v4 client", "192.168.1.10", "203.0.113.7", false, "::ffff:192.168.1.20", "192.168.1.10:8085"},
		{"v6 client", "192.168.1.10", "203.0.113.7", true, "2001:db8::1", "203.0.113.7:8085"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRealm(t, tt.local, tt.external, tt.anyPrivate)
			got := r.AddressForClient(netip.MustParseAddr(tt.client))
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestNew_RejectsBadAddresses(t *testing.T) {
	_, err := New(config.Realm{LocalAddress: "nope", ExternalAddress: "1.1.1.1", LocalSubnetMask: "255.0.0.0"})
	assert.Error(t, err)
}

func TestInNetwork(t *testing.T) {
	net := netip.MustParseAddr("10.0.0.0")
	mask := netip.MustParseAddr("255.0.0.0")

	assert.True(t, InNetwork(net, mask, netip.MustParseAddr("10.255.1.1")))
	assert.False(t, InNetwork(net, mask, netip.MustParseAddr("11.0.0.1")))
	assert.False(t, InNetwork(net, mask, netip.MustParseAddr("::1")))
}
