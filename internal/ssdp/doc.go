// Package ssdp discovers Belkin WeMo switches on the local network.
//
// A search binds an ephemeral UDP socket, sends an M-SEARCH for
// urn:Belkin:device:* to 239.255.255.250:1900 and repeats it every 300ms
// until the search ends. Every datagram received is treated as a candidate
// response; those carrying an IPv4 LOCATION header and a WeMo USN header
// become records, anything else is dropped without affecting the search.
//
// # Usage Example
//
//	s := ssdp.NewSearcher()
//	devices, err := s.Search(ctx, 2*time.Second)
//	if err != nil {
//	    return err
//	}
//	for serial, rec := range devices {
//	    fmt.Printf("%s at %s\n", serial, rec.Host())
//	}
//
// Targeted searches return as soon as the device answers:
//
//	rec, ok, err := s.SearchForSerial(ctx, "221517K0101769", 2*time.Second)
//
// # Results
//
// Records are keyed by serial number and persist across searches on the
// same Searcher, with newer responses replacing older ones, until Reset.
package ssdp
