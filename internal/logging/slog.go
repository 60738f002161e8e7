package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"
)

// Common log attribute keys for consistent naming across the codebase.
const (
	KeyOperation = "operation"
	KeyMemoryID  = "memory_id"
	KeyJobID     = "job_id"
	KeyChannel   = "channel"
	KeyQuery     = "query_hash"
	KeyUserHash  = "user_hash"
	KeyDuration  = "duration"
	KeyStatus    = "status"
	KeyError     = "error"
	KeyTool      = "tool"
	KeyMode      = "mode"
	KeyCount     = "count"
)

// Status values for consistent logging.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// WithOperation returns a logger with the operation attribute set.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String(KeyOperation, operation))
}

// WithTool returns a logger with the tool attribute set.
func WithTool(logger *slog.Logger, tool string) *slog.Logger {
	return logger.With(slog.String(KeyTool, tool))
}

// Operation returns a slog attribute for the operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// MemoryID returns a slog attribute for a memory identifier.
func MemoryID(id string) slog.Attr {
	return slog.String(KeyMemoryID, id)
}

// JobID returns a slog attribute for an async job identifier.
func JobID(id string) slog.Attr {
	return slog.String(KeyJobID, id)
}

// Channel returns a slog attribute for a pub/sub channel name.
func Channel(name string) slog.Attr {
	return slog.String(KeyChannel, name)
}

// Mode returns a slog attribute for the engine's operating mode.
func Mode(mode string) slog.Attr {
	return slog.String(KeyMode, mode)
}

// Count returns a slog attribute for an item count.
func Count(n int) slog.Attr {
	return slog.Int(KeyCount, n)
}

// Status returns a slog attribute for the status.
func Status(status string) slog.Attr {
	return slog.String(KeyStatus, status)
}

// Duration returns a slog attribute for an elapsed duration.
func Duration(d time.Duration) slog.Attr {
	return slog.String(KeyDuration, d.Truncate(time.Microsecond).String())
}

// Err returns a slog attribute for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

// AnonymizeUser returns a hashed representation of a user id for logging
// purposes. This allows correlation of log entries without exposing the raw
// identifier.
func AnonymizeUser(userID string) string {
	if userID == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(userID))
	return "user:" + hex.EncodeToString(hash[:8])
}

// UserHash returns a slog attribute with the anonymized user id.
func UserHash(userID string) slog.Attr {
	return slog.String(KeyUserHash, AnonymizeUser(userID))
}

// QueryHash returns a slog attribute with a short hash of a search query,
// keeping query text out of logs while preserving correlation.
func QueryHash(query string) slog.Attr {
	if query == "" {
		return slog.String(KeyQuery, "<empty>")
	}
	hash := sha256.Sum256([]byte(query))
	return slog.String(KeyQuery, hex.EncodeToString(hash[:6]))
}

// SanitizeToken returns a masked version of a credential for logging.
// It returns a length indicator without exposing any token content.
func SanitizeToken(token string) string {
	if token == "" {
		return "<empty>"
	}
	return fmt.Sprintf("[token:%d chars]", len(token))
}
