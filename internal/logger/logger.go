// Package logger initializes the process-wide structured logger. All
// components receive a logr.Logger and scope it with WithName.
package logger

import (
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"
)

// NewZeroLogr returns a logr.Logger backed by zerolog writing to stderr.
// Unknown level strings fall back to info.
func NewZeroLogr(level string) logr.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	zl := zerolog.New(os.Stderr).
		Level(lvl).
		With().
		Timestamp().
		Logger()

	return zerologr.New(&zl)
}
