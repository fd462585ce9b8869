// Package wemo holds the data model shared by the discovery, control and
// subscription packages: switch states, discovery records and the error
// taxonomy every public operation reports through.
//
// # States
//
// A switch reports a numeric BinaryState. Codes 0, 1 and 8 are Off, On and
// OnWithoutLoad (relay closed, nothing drawing current). Any other code in
// [0, 65535] is kept as an unknown state rather than discarded; codes
// outside that range are parse errors. Insight devices append telemetry to
// the value as pipe-delimited fields, which are ignored.
//
// # Errors
//
// All failures are *Error values carrying an ErrorType. Compare with
// errors.Is against the sentinels:
//
//	if errors.Is(err, wemo.ErrTimeout) {
//	    // budget exhausted
//	}
package wemo
