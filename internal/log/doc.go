// Package log provides secure logging functionality with automatic
// sanitization of sensitive information, built on top of the standard slog
// package.
//
// An assessment pipeline handles exactly the material that must never reach
// a log file: provider API keys for the agent runtime, credentials harvested
// from targets during exploitation, session cookies observed by analysis
// lanes. The SecureHandler masks attribute values whose key or value looks
// like such material before they reach the underlying handler.
//
// # Usage
//
//	logger := log.NewSecureLogger(os.Stderr, verbose)
//	logger.Info("agent completed",
//	    "runId", runID,
//	    "authorization", header, // masked
//	)
//	slog.SetDefault(logger)
//
// Even in verbose mode, sensitive values are masked to prevent accidental
// exposure of secrets in logs that may be shared or stored.
package log
