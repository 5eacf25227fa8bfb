// Package logging wires logrus for kirorelay: structured output, optional
// rotated file output via lumberjack, and a Gin middleware pair for request
// logging and panic recovery.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions configures rotated file logging. A zero value disables file
// output entirely (stdout-only).
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Setup builds the process-wide logrus logger: JSON output, the given
// level, and optionally tee'd to a rotated file.
func Setup(level string, file FileOptions) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	log.SetLevel(parseLevel(level))

	var out io.Writer = os.Stdout
	if file.Path != "" {
		rotator := &lumberjack.Logger{
			Filename:   file.Path,
			MaxSize:    nonZero(file.MaxSizeMB, 100),
			MaxBackups: nonZero(file.MaxBackups, 5),
			MaxAge:     nonZero(file.MaxAgeDays, 28),
			Compress:   file.Compress,
		}
		out = io.MultiWriter(os.Stdout, rotator)
	}
	log.SetOutput(out)
	log.AddHook(GlobalBuffer)
	return log, nil
}

// SetLogLevel parses level case-insensitively against logrus's level names
// plus two aliases this project accepts in config files: "verbose" (debug)
// and "quiet"/"silent" (fatal, i.e. suppress everything but fatal errors).
// An unrecognized value falls back to info, matching Setup's behavior.
func SetLogLevel(level string) {
	logrus.SetLevel(parseLevel(level))
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug", "verbose":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "quiet", "silent":
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

func nonZero(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}
