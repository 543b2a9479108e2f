// Package log provides structured protocol logging for the credential client.
//
// This package defines the Logger interface and Event types for capturing
// protocol-level events at multiple layers (transport, protocol, scenario).
// It is separate from operational logging (slog) - protocol capture provides
// a complete machine-readable event trace for debugging and analysis.
//
// # Basic Usage
//
// Applications configure logging by providing a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("issuance.hlog")
//
//	// Both: use MultiLogger
//	fileLog, _ := log.NewFileLogger("issuance.hlog")
//	cfg.ProtocolLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLog,
//	)
//
// # Event Types
//
// Events are captured at multiple layers:
//   - Transport: MQTT session control traffic (ControlMsgEvent)
//   - Protocol: Decoded issuance requests and responses (MessageEvent)
//   - Scenario: Test scenario progress (StateChangeEvent)
//
// State changes and errors have dedicated event types and can originate
// from any layer.
//
// # File Format
//
// Log files use CBOR encoding with .hlog extension. The hubcred-log CLI
// tool provides viewing, filtering, and export capabilities.
package log
