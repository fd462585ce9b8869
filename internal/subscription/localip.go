package subscription

import (
	"net"
	"net/netip"
	"strings"

	"github.com/muurk/wemo/internal/wemo"
)

// virtualPrefixes are interface name prefixes of container bridges, VM
// adapters and tunnels, which devices on the LAN cannot call back to.
var virtualPrefixes = []string{
	"docker", "veth", "br-", "virbr", "vmnet", "vboxnet", "tun", "tap", "utun", "zt", "wg", "lxc", "cni", "flannel",
}

func isVirtual(name string) bool {
	name = strings.ToLower(name)
	for _, p := range virtualPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// LocalIPv4 returns the first IPv4 address of an interface that is up,
// not loopback and not virtual. Private addresses are preferred.
func LocalIPv4() (netip.Addr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return netip.Addr{}, wemo.NewNoLocalIPError(err)
	}
	return pickIPv4(ifaces, func(ifi net.Interface) ([]net.Addr, error) { return ifi.Addrs() })
}

func pickIPv4(ifaces []net.Interface, addrsOf func(net.Interface) ([]net.Addr, error)) (netip.Addr, error) {
	var fallback netip.Addr
	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagLoopback != 0 || isVirtual(ifi.Name) {
			continue
		}
		addrs, err := addrsOf(ifi)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			prefix, err := netip.ParsePrefix(a.String())
			if err != nil {
				continue
			}
			ip := prefix.Addr().Unmap()
			if !ip.Is4() || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
				continue
			}
			if ip.IsPrivate() {
				return ip, nil
			}
			if !fallback.IsValid() {
				fallback = ip
			}
		}
	}
	if fallback.IsValid() {
		return fallback, nil
	}
	return netip.Addr{}, wemo.NewNoLocalIPError(nil)
}
