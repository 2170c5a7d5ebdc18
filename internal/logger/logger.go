package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

var global *zap.SugaredLogger

// Init builds the process logger writing human-readable lines to w and
// installs it as the global returned by Logger.
func Init(level string, w io.Writer) (*zap.SugaredLogger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	encCfg.CallerKey = ""
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if lvl <= zapcore.DebugLevel && isTerminal(w) {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), lvl)
	global = zap.New(core).Sugar()
	return global, nil
}

// isTerminal keeps color codes out of redirected output.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Set installs an already-built logger (tests use zaptest loggers).
func Set(z *zap.SugaredLogger) { global = z }

// Logger returns the global logger, or a no-op logger before Init.
func Logger() *zap.SugaredLogger {
	if global == nil {
		return zap.NewNop().Sugar()
	}
	return global
}

// ParseLevel maps debug|info|warn|error (empty means info).
func ParseLevel(level string) (zapcore.Level, error) {
	l := strings.ToLower(strings.TrimSpace(level))
	if l == "" {
		return zapcore.InfoLevel, nil
	}
	parsed, err := zapcore.ParseLevel(l)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q (expected debug|info|warn|error)", level)
	}
	return parsed, nil
}
