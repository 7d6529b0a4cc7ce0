package obs

import (
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	charmlog "github.com/charmbracelet/log"
)

// LogConfig selects level and format of the shared logger.
type LogConfig struct {
	Level  string
	JSON   bool
	Output io.Writer
}

var (
	loggerMu sync.Mutex
	logger   *charmlog.Logger
)

// NewLogger builds a structured logger from cfg.
func NewLogger(cfg LogConfig) *charmlog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	l := charmlog.NewWithOptions(out, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02T15:04:05.000Z07:00",
		Level:           ParseLevel(cfg.Level),
	})
	if cfg.JSON {
		l.SetFormatter(charmlog.JSONFormatter)
	} else {
		l.SetFormatter(charmlog.TextFormatter)
	}
	return l
}

// ParseLevel maps a textual level to the logger's; unknown values mean info.
func ParseLevel(raw string) charmlog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return charmlog.DebugLevel
	case "warn", "warning":
		return charmlog.WarnLevel
	case "error":
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// Setup replaces the shared logger.
func Setup(cfg LogConfig) *charmlog.Logger {
	l := NewLogger(cfg)
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
	return l
}

// Logger returns the shared structured logger used across the service.
// Until Setup runs it writes JSON at info level to stdout.
func Logger() *charmlog.Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		logger = NewLogger(LogConfig{JSON: true})
	}
	return logger
}

// LogRequest emits one structured line with common HTTP fields.
func LogRequest(entry map[string]any) {
	keys := make([]string, 0, len(entry))
	for k := range entry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	kv := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		kv = append(kv, k, entry[k])
	}
	Logger().Info("http_request", kv...)
}
