// Package logging builds the logr.Logger used across hubspoke on top of zap.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Formats accepted by New.
const (
	FormatAuto    = "auto"
	FormatJSON    = "json"
	FormatConsole = "console"
)

// New returns a logger writing to stderr. Level is one of debug, info,
// warn, error or a non-negative logr verbosity ("2" enables V(2)). The auto
// format picks console output on a terminal and JSON otherwise.
func New(level, format string) (logr.Logger, error) {
	return NewWithWriter(os.Stderr, level, format)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level, format string) (logr.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return logr.Discard(), err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch resolveFormat(format, w) {
	case FormatConsole:
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	case FormatJSON:
		enc = zapcore.NewJSONEncoder(encCfg)
	default:
		return logr.Discard(), fmt.Errorf("unknown log format %q", format)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(w), lvl)
	return zapr.NewLogger(zap.New(core, zap.AddCaller())), nil
}

// parseLevel maps names and logr verbosities onto zap levels. logr V(n)
// logs at zap level -n.
func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.Level(-1), nil
	case "trace":
		return zapcore.Level(-2), nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	var v int
	if _, err := fmt.Sscanf(level, "%d", &v); err != nil || v < 0 {
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
	return zapcore.Level(-v), nil
}

func resolveFormat(format string, w io.Writer) string {
	switch strings.ToLower(format) {
	case "", FormatAuto:
		if isTerminal(w) {
			return FormatConsole
		}
		return FormatJSON
	default:
		return strings.ToLower(format)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
