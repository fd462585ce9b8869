// Package logging provides structured logging for the wemo tools.
//
// This package wraps a global zap logger with convenience functions. Logging
// is silent until Initialize is called with a level, or WEMO_LOG_LEVEL is
// set, so library callers never see output they did not ask for.
//
// # Log Levels
//
//   - Debug: wire traffic, individual searches and control requests
//   - Info: notifications, subscriptions, server lifecycle
//   - Warn: renewal failures, dropped notifications
//   - Error: startup failures
//
// # Structured Logging
//
//	logging.Info("Subscribed",
//	    zap.String("host", "192.168.1.20:49153"),
//	    zap.Uint("ttl", 300),
//	)
//
// Domain helpers cover the common cases:
//
//	logging.LogSearch("serial", "221517K0101769", 1, elapsed)
//	logging.LogControl("192.168.1.20:49153", "SetBinaryState", err, elapsed)
//	logging.LogNotification(host, state.String(), true)
//
// # Output Format
//
// Logs are written to stderr in console format so command output on stdout
// stays machine-readable.
package logging
