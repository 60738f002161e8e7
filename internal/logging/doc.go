// Package logging provides structured logging helpers built on log/slog.
//
// It defines consistent attribute keys used across the codebase and small
// constructors for common attributes, plus sanitizers that keep credentials
// and raw user identifiers out of log output.
package logging
