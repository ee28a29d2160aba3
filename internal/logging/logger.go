package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

const defaultHistorySize = 500

var (
	loggers       = make(map[string]*slog.Logger)
	levels        = make(map[string]*slog.LevelVar)
	current       Config
	rootLevel     = &slog.LevelVar{}
	initialized   bool
	history       = NewHistory(defaultHistorySize)
	mu            sync.RWMutex
	journalOutput = IsJournalAvailable
)

// Config selects the global level, output format and per-module overrides.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

// Initialize applies cfg to the default logger and every module logger
// created so far. Loggers handed out earlier keep working because their
// levels live in shared LevelVars.
func Initialize(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	current = cfg
	initialized = true

	base := levelOrInfo(cfg.Level)
	rootLevel.Set(base)

	for module, lv := range levels {
		lv.Set(moduleLevel(cfg, module, base))
		loggers[module] = slog.New(newHandler(cfg.Format, lv)).With("module", module)
	}

	slog.SetDefault(slog.New(newHandler(cfg.Format, rootLevel)))
}

// GetLogger returns the logger for module, creating it on first use.
func GetLogger(module string) *slog.Logger {
	mu.RLock()
	logger, ok := loggers[module]
	mu.RUnlock()
	if ok {
		return logger
	}

	mu.Lock()
	defer mu.Unlock()
	if logger, ok := loggers[module]; ok {
		return logger
	}

	lv := &slog.LevelVar{}
	format := "text"
	if initialized {
		lv.Set(moduleLevel(current, module, levelOrInfo(current.Level)))
		format = current.Format
	}

	logger = slog.New(newHandler(format, lv)).With("module", module)
	loggers[module] = logger
	levels[module] = lv
	return logger
}

// SetModuleLevel changes a module's level at runtime.
func SetModuleLevel(module, level string) bool {
	parsed := parseLevel(level)
	if parsed == nil {
		return false
	}
	GetLogger(module)

	mu.Lock()
	defer mu.Unlock()
	levels[module].Set(*parsed)
	return true
}

// Recent returns up to n of the newest history entries, oldest first.
func Recent(n int) []Entry {
	return history.Last(n)
}

func newHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var stdout slog.Handler
	if format == "json" {
		stdout = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		stdout = slog.NewTextHandler(os.Stdout, opts)
	}

	var handlers []slog.Handler
	if stdoutAttached() {
		handlers = append(handlers, stdout)
	}
	if journalOutput() {
		handlers = append(handlers, NewJournalHandler(level))
	}
	handlers = append(handlers, history.Handler(level))

	if len(handlers) == 1 {
		return handlers[0]
	}
	return NewMultiHandler(handlers...)
}

// stdoutAttached is false when stdout is /dev/null or closed, as under systemd
// with StandardOutput=null.
func stdoutAttached() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return mode&os.ModeCharDevice != 0 || mode&os.ModeNamedPipe != 0 || mode&os.ModeSocket != 0 || mode.IsRegular()
}

func moduleLevel(cfg Config, module string, fallback slog.Level) slog.Level {
	if s, ok := cfg.Modules[module]; ok {
		if parsed := parseLevel(s); parsed != nil {
			return *parsed
		}
	}
	return fallback
}

func levelOrInfo(s string) slog.Level {
	if parsed := parseLevel(s); parsed != nil {
		return *parsed
	}
	return slog.LevelInfo
}

func parseLevel(level string) *slog.Level {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return nil
	}
	return &l
}
