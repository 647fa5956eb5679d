// Package log is the structured logging facade used across the course status
// service.
//
// # Overview
//
// Components depend on the small Logger interface and attach context with
// Field values. Records are routed through log/slog by a bridge handler that
// applies key redaction and sampling before handing entries to the configured
// Formatter and Outputs.
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("gateway"), log.Str("queue", "CourseStatusQueueStaging"))
//	l.Info("listening", log.Int("port", 8080))
//
// # Configuration
//
// ApplyConfig builds a logger from a declarative Config (level, json|text
// format, redacted keys, sampling). ParseLevel accepts the usual names.
//
// # Interop
//
// RedirectStdLog points the standard library logger at a Logger so that
// net/http and grpc messages share one output. WithContext copies request ids
// and OpenTelemetry trace/span ids into the entry.
package log
