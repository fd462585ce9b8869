// Package tui implements the interactive wemo dashboard.
//
// The dashboard lists every known switch with its last known state. It
// scans on start, toggles the selected switch with space and rescans with
// r. When fed a notification channel it also follows state changes pushed
// by the devices, so a switch flipped by hand updates on screen.
//
//	m := tui.New(ssdp.NewSearcher(), device.NewFleet(), tui.Options{Retry: true})
//	if err := tui.Run(m); err != nil {
//	    return err
//	}
package tui
