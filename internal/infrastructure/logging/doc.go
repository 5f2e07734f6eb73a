// Package logging provides structured logging for the Gray Logic IoT client.
//
// It wraps the standard log/slog package so every component logs with the
// same handler, level filter and default fields.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("connected", "endpoint", endpoint, "client_id", clientID)
//
// Never log passphrases, secret access keys or session tokens. Presigned
// WebSocket URLs carry credentials in the query string and must not be
// logged either.
package logging
