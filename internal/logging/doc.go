// Package logging provides structured logging for fleetwatch.
//
// This package wraps Go's log/slog to emit JSON lines with persistent
// attributes. Every supervision subsystem receives a *Logger at construction
// and derives a child logger tagged with its component name.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/var/log/fleetwatch", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	pollLog := logger.WithComponent("poller")
//	pollLog.WithSession("sess-42").Warn("fetch failed", "consecutive_errors", 1)
//
// Output:
//
//	{"time":"...","level":"WARN","msg":"fetch failed","component":"poller","session_id":"sess-42","consecutive_errors":1}
//
// # Testing
//
// Use [NopLogger] to discard output, or [NewWriterLogger] with a
// bytes.Buffer to assert on emitted entries.
package logging
