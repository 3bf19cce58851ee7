package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New builds the gateway logger. Output is JSON on stderr; level falls
// back to info when the configured value does not parse.
func New(service, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(os.Stderr).
		Level(lvl).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}
