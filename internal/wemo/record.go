package wemo

import (
	"fmt"
	"net/netip"
	"net/url"
	"time"
)

// DeviceRecord is one switch as reported by a discovery response.
type DeviceRecord struct {
	SerialNumber string     // Serial number from the USN header
	Model        string     // Lightswitch, Insight or Socket
	IP           netip.Addr // IPv4 address from the LOCATION header
	Port         uint16     // Port from the LOCATION header
	SetupURL     *url.URL   // Full LOCATION URL, normally /setup.xml
	DiscoveredAt time.Time  // When the response was accepted
}

// Host returns "ip:port", the key used for subscriptions.
func (r DeviceRecord) Host() string {
	return netip.AddrPortFrom(r.IP, r.Port).String()
}

// BaseURL returns the HTTP base URL for the device
func (r DeviceRecord) BaseURL() string {
	return fmt.Sprintf("http://%s", r.Host())
}

// String returns a human-readable representation of the record
func (r DeviceRecord) String() string {
	return fmt.Sprintf("%s %s (%s)", r.Model, r.SerialNumber, r.Host())
}
