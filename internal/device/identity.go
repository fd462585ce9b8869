package device

import (
	"fmt"
	"net/netip"
)

// Identity says whether a switch's IP address is pinned by the user or
// may be replaced by relocation.
type Identity struct {
	static bool
	ip     netip.Addr
}

// StaticIP pins a switch to ip. Relocation may still change its port.
func StaticIP(ip netip.Addr) Identity {
	return Identity{static: true, ip: ip}
}

// Dynamic lets relocation replace both IP and port.
func Dynamic() Identity {
	return Identity{}
}

// IsStatic reports whether the IP is pinned
func (i Identity) IsStatic() bool {
	return i.static
}

// IP returns the pinned address, or the zero Addr for dynamic identities
func (i Identity) IP() netip.Addr {
	return i.ip
}

// String returns a human-readable representation
func (i Identity) String() string {
	if i.static {
		return fmt.Sprintf("static(%s)", i.ip)
	}
	return "dynamic"
}
