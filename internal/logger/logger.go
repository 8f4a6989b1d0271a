package logger

import (
	"os"
	"regexp"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// level is shared by every Logger so SetLevel affects package-level loggers
// created before configuration was loaded.
var level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

var (
	emailRegex    = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	tokenRegex    = regexp.MustCompile(`eyJ[^\s]+`)
	userIDRegex   = regexp.MustCompile(`\buser_id\s*=\s*[0-9a-fA-F-]+\b`)
	passRegex     = regexp.MustCompile(`(?i)\bpassword=\S+`)
	passJSONRegex = regexp.MustCompile(`(?i)"password"\s*:\s*"[^"]*"`)
)

// Logger is a centralized structured logger
type Logger struct {
	out *zap.Logger
}

// New creates a new Logger writing JSON lines to stdout
func New() *Logger {
	return newWithCore(zapcore.NewCore(encoder(), zapcore.Lock(os.Stdout), level))
}

func newWithCore(core zapcore.Core) *Logger {
	return &Logger{out: zap.New(core)}
}

func encoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "time"
	cfg.MessageKey = "message"
	cfg.EncodeTime = zapcore.RFC3339TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(cfg)
}

// SetLevel changes the minimum level of all loggers. Unknown names keep the
// current level.
func SetLevel(name string) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err == nil {
		level.SetLevel(l)
	}
}

// Anonymize replaces sensitive information in logs (emails, tokens, IDs, passwords)
func Anonymize(s string) string {
	s = emailRegex.ReplaceAllString(s, "[REDACTED_EMAIL]")
	s = tokenRegex.ReplaceAllString(s, "[REDACTED_TOKEN]")
	s = userIDRegex.ReplaceAllString(s, "user_id=[USER_ID]")
	s = passRegex.ReplaceAllString(s, "password=[REDACTED]")
	s = passJSONRegex.ReplaceAllString(s, `"password":"[REDACTED]"`)
	return s
}

func (l *Logger) log(module string, lvl zapcore.Level, msg string, err error) {
	ce := l.out.Check(lvl, Anonymize(msg))
	if ce == nil {
		return
	}
	fields := make([]zap.Field, 0, 2)
	if module != "" {
		fields = append(fields, zap.String("module", module))
	}
	if err != nil {
		fields = append(fields, zap.String("error", Anonymize(err.Error())))
	}
	ce.Write(fields...)
}

// --- Convenient methods ---
func (l *Logger) Info(module, msg string) {
	l.log(module, zapcore.InfoLevel, msg, nil)
}

func (l *Logger) Debug(module, msg string) {
	l.log(module, zapcore.DebugLevel, msg, nil)
}

func (l *Logger) Warn(module, msg string) {
	l.log(module, zapcore.WarnLevel, msg, nil)
}

func (l *Logger) Error(module, msg string, err error) {
	l.log(module, zapcore.ErrorLevel, msg, err)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() {
	_ = l.out.Sync()
}
