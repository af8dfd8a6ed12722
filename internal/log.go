package internal

import (
	"github.com/rs/zerolog"
)

// NopLogger is the default logger used when a caller doesn't supply one:
// a library must stay silent unless asked to talk.
func NopLogger() zerolog.Logger {
	return zerolog.Nop()
}
