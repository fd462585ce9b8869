package subscription

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/wemo/internal/wemo"
)

func ipNet(cidr string) net.Addr {
	ip, n, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(err)
	}
	n.IP = ip
	return n
}

func TestPickIPv4(t *testing.T) {
	up := net.FlagUp | net.FlagMulticast
	addrs := map[string][]net.Addr{
		"lo":      {ipNet("127.0.0.1/8")},
		"docker0": {ipNet("172.17.0.1/16")},
		"veth12":  {ipNet("172.17.0.2/16")},
		"eth1":    {ipNet("fe80::1/64"), ipNet("169.254.3.3/16")},
		"eth2":    {ipNet("203.0.113.5/24")},
		"wlan0":   {ipNet("192.168.1.23/24")},
		"eth3":    {ipNet("10.0.0.9/8")},
	}
	lookup := func(ifi net.Interface) ([]net.Addr, error) { return addrs[ifi.Name], nil }

	tests := []struct {
		name    string
		ifaces  []net.Interface
		want    string
		wantErr bool
	}{
		{
			name: "skips loopback and virtual",
			ifaces: []net.Interface{
				{Name: "lo", Flags: up | net.FlagLoopback},
				{Name: "docker0", Flags: up},
				{Name: "veth12", Flags: up},
				{Name: "wlan0", Flags: up},
			},
			want: "192.168.1.23",
		},
		{
			name: "prefers private over public",
			ifaces: []net.Interface{
				{Name: "eth2", Flags: up},
				{Name: "eth3", Flags: up},
			},
			want: "10.0.0.9",
		},
		{
			name: "public fallback",
			ifaces: []net.Interface{
				{Name: "eth1", Flags: up},
				{Name: "eth2", Flags: up},
			},
			want: "203.0.113.5",
		},
		{
			name: "down interfaces ignored",
			ifaces: []net.Interface{
				{Name: "wlan0", Flags: 0},
				{Name: "lo", Flags: up | net.FlagLoopback},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pickIPv4(tt.ifaces, lookup)
			if tt.wantErr {
				assert.ErrorIs(t, err, wemo.ErrNoLocalIP)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, netip.MustParseAddr(tt.want), got)
		})
	}
}
