// Package logging provides structured logging for the bridge.
//
// It wraps log/slog so every component logs with the same handler,
// default fields (service, version) and level filtering.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	pollLog := logger.Component("poller")
//	pollLog.Warn("inventory fetch failed", "error", err)
//
// Never log cloud passwords, auth tokens or push credentials.
package logging
