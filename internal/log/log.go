// Package log is a module-gated structured logger over log/slog.
//
// Debug records are only emitted for modules enabled with EnableModule or
// EnableModules; Info and above are filtered by level only. Everything goes
// to stderr by default so program output on stdout stays clean.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Modules.
const (
	VM          = "vm"
	Fingerprint = "fingerprint"
	Trace       = "trace"
	CLI         = "cli"
	REPL        = "repl"
)

var root atomic.Value

var (
	mu      sync.RWMutex
	enabled = map[string]bool{}
)

func init() {
	root.Store(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// ParseLevel converts a level name to a slog level.
func ParseLevel(lvl string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(lvl)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "", "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid level: %s", lvl)
	}
}

// InitLogger installs a stderr text logger at the given level.
func InitLogger(level string) error {
	return InitLoggerTo(os.Stderr, level)
}

// InitLoggerTo installs a text logger writing to w.
func InitLoggerTo(w io.Writer, level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
	return nil
}

// SetDefault replaces the root logger.
func SetDefault(l *slog.Logger) {
	root.Store(l)
}

// Root returns the root logger.
func Root() *slog.Logger {
	return root.Load().(*slog.Logger)
}

// EnableModule enables debug logging for module.
func EnableModule(module string) {
	mu.Lock()
	defer mu.Unlock()
	enabled[module] = true
}

// DisableModule disables debug logging for module.
func DisableModule(module string) {
	mu.Lock()
	defer mu.Unlock()
	delete(enabled, module)
}

// EnableModules enables a comma-separated list of modules.
func EnableModules(list string) {
	for _, m := range strings.Split(list, ",") {
		if m = strings.TrimSpace(m); m != "" {
			EnableModule(m)
		}
	}
}

func isModuleEnabled(module string) bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled[module]
}

// Debug logs at debug level if module is enabled.
func Debug(module string, msg string, ctx ...any) {
	if !isModuleEnabled(module) {
		return
	}
	write(slog.LevelDebug, module, msg, ctx...)
}

func Info(module string, msg string, ctx ...any) {
	write(slog.LevelInfo, module, msg, ctx...)
}

func Warn(module string, msg string, ctx ...any) {
	write(slog.LevelWarn, module, msg, ctx...)
}

func Error(module string, msg string, ctx ...any) {
	write(slog.LevelError, module, msg, ctx...)
}

func write(level slog.Level, module string, msg string, ctx ...any) {
	l := Root()
	if !l.Enabled(context.Background(), level) {
		return
	}
	l.Log(context.Background(), level, msg, append([]any{"module", module}, ctx...)...)
}
