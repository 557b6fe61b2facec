// Package logger builds the slog.Logger shared by the IPC client, the
// gateway and the presence CLI.
//
// Records carry a "component" attribute (connection, rpc, gateway, cli) so a
// single stream can be filtered per layer. Gateway access tokens never reach
// the output.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"discord-rpc/internal/infra/config"
)

// secretKeys are attribute keys whose values are replaced before writing.
var secretKeys = map[string]bool{
	"token":         true,
	"authorization": true,
}

const redacted = "[redacted]"

// New builds the logger described by cfg. The closer releases a log file
// and is a no-op for the standard streams.
func New(cfg config.LoggerConfig) (*slog.Logger, func() error, error) {
	w, closer, err := openOutput(cfg.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("open log output %q: %w", cfg.Output, err)
	}
	return slog.New(newHandler(w, cfg)), closer, nil
}

// newHandler picks text or JSON. Debug level also records the calling
// file, shortened to its base name.
func newHandler(w io.Writer, cfg config.LoggerConfig) slog.Handler {
	level := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   level <= slog.LevelDebug,
		ReplaceAttr: replaceAttr,
	}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	switch {
	case secretKeys[strings.ToLower(a.Key)]:
		return slog.String(a.Key, redacted)
	case a.Key == slog.SourceKey:
		if src, ok := a.Value.Any().(*slog.Source); ok && src != nil {
			return slog.String(slog.SourceKey, fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
		}
	}
	return a
}

// ParseLevel maps logger.level to a slog.Level. Unknown values mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Component tags l with the layer that logs through it.
func Component(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", name)
}

// openOutput resolves logger.output: stdout, stderr (default), discard/none
// for tests and one-shot commands, or a file path opened for append.
func openOutput(output string) (io.Writer, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(output) {
	case "stdout":
		return os.Stdout, noop, nil
	case "stderr", "":
		return os.Stderr, noop, nil
	case "discard", "none":
		return io.Discard, noop, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
