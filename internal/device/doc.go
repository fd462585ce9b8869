// Package device models a single WeMo switch and its control operations.
//
// Every operation takes a total time budget. The plain variants make one
// attempt. The *WithRetry variants follow a strict two-phase scheme:
//
//  1. one attempt with a fixed 300ms budget
//  2. on failure, relocate the switch with SSDP using what is left of the
//     budget (by serial number when known, else by last address)
//  3. one more attempt against the relocated address
//
// Relocation is attempted once. A switch created with FromStaticIP keeps
// its IP through relocation and only adopts a new port.
//
//	sw := device.FromRecord(rec)
//	state, err := sw.ToggleWithRetry(ctx, 2*time.Second)
package device
