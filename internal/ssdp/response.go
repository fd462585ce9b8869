package ssdp

import (
	"net/netip"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/muurk/wemo/internal/wemo"
)

// DefaultPort is used when LOCATION carries no explicit port
const DefaultPort = 80

var (
	// locationPattern matches "LOCATION: http://192.168.1.4:49153/setup.xml"
	locationPattern = regexp.MustCompile(`(?im)^LOCATION:[ \t]*(\S*)[ \t]*\r?$`)

	// usnPattern matches "USN: uuid:Insight-1_0-12345ABCDE::upnp:rootdevice"
	usnPattern = regexp.MustCompile(`(?im)^USN:[ \t]*uuid:(Lightswitch|Insight|Socket)-\d+_\d+-(.+?)::`)
)

// ParseResponse extracts a device record from one SSDP response. It
// reports false for anything that is not a WeMo switch announcing an IPv4
// LOCATION, including foreign multicast traffic and truncated datagrams.
func ParseResponse(data []byte) (wemo.DeviceRecord, bool) {
	text := string(data)

	locations := locationPattern.FindAllStringSubmatch(text, -1)
	if len(locations) == 0 {
		return wemo.DeviceRecord{}, false
	}
	// Last LOCATION header wins
	raw := locations[len(locations)-1][1]

	setupURL, err := url.Parse(raw)
	if err != nil || setupURL.Host == "" {
		return wemo.DeviceRecord{}, false
	}

	ip, err := netip.ParseAddr(setupURL.Hostname())
	if err != nil || !ip.Is4() {
		return wemo.DeviceRecord{}, false
	}

	port := uint16(DefaultPort)
	if p := setupURL.Port(); p != "" {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return wemo.DeviceRecord{}, false
		}
		port = uint16(n)
	}

	usn := usnPattern.FindStringSubmatch(text)
	if usn == nil {
		return wemo.DeviceRecord{}, false
	}
	serial := strings.TrimSpace(usn[2])
	if serial == "" {
		return wemo.DeviceRecord{}, false
	}

	return wemo.DeviceRecord{
		SerialNumber: serial,
		Model:        usn[1],
		IP:           ip,
		Port:         port,
		SetupURL:     setupURL,
		DiscoveredAt: time.Now(),
	}, true
}
