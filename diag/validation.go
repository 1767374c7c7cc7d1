package diag

import (
	"context"
	"log/slog"
)

// Severity of a validation-layer message, from least to most serious.
type Severity int

const (
	SeverityVerbose Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
)

// Validation logs a graphics API validation message. Verbose and info chatter is
// dropped; warnings and errors are logged at the matching level.
func (c *Context) Validation(severity Severity, messageType string, message string) {
	var level slog.Level
	switch severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityError:
		level = slog.LevelError
	default:
		return
	}
	c.logger.Log(context.Background(), level, message, "source", "validation", "type", messageType)
}
