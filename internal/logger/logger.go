package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"log/slog"
)

var (
	levelVar   slog.LevelVar
	loggerMu   sync.RWMutex
	baseLogger *slog.Logger
)

func init() {
	levelVar.Set(slog.LevelInfo)
	baseLogger = newLogger(os.Stdout)
}

func newLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: &levelVar})
	return slog.New(handler)
}

func SetOutput(w io.Writer) {
	loggerMu.Lock()
	baseLogger = newLogger(w)
	loggerMu.Unlock()
}

func SetLevel(level string) {
	levelVar.Set(ParseLevel(level))
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func activeLogger() *slog.Logger {
	loggerMu.RLock()
	l := baseLogger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if baseLogger == nil {
		baseLogger = newLogger(os.Stdout)
	}
	return baseLogger
}

func Debugf(format string, v ...any) {
	activeLogger().Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	activeLogger().Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	activeLogger().Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	activeLogger().Error(fmt.Sprintf(format, v...))
}

// Component is a printf-style logger that tags every line with fixed
// attributes (component name, engine id, ...).
type Component struct {
	attrs []any
}

// With returns a component logger carrying the given key/value attributes.
func With(args ...any) Component {
	return Component{attrs: args}
}

// With extends the attribute set.
func (c Component) With(args ...any) Component {
	attrs := make([]any, 0, len(c.attrs)+len(args))
	attrs = append(attrs, c.attrs...)
	attrs = append(attrs, args...)
	return Component{attrs: attrs}
}

func (c Component) Debugf(format string, v ...any) {
	activeLogger().With(c.attrs...).Debug(fmt.Sprintf(format, v...))
}

func (c Component) Infof(format string, v ...any) {
	activeLogger().With(c.attrs...).Info(fmt.Sprintf(format, v...))
}

func (c Component) Warnf(format string, v ...any) {
	activeLogger().With(c.attrs...).Warn(fmt.Sprintf(format, v...))
}

func (c Component) Errorf(format string, v ...any) {
	activeLogger().With(c.attrs...).Error(fmt.Sprintf(format, v...))
}

func InfoBlock(block string) {
	block = strings.TrimSpace(block)
	if block == "" {
		return
	}
	lines := strings.Split(block, "\n")
	for _, line := range lines {
		Infof("%s", line)
	}
}
