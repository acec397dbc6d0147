package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with request and component scoping
type Logger struct {
	*zap.Logger
}

// Config contains logger configuration
type Config struct {
	Level  string
	Format string // json or console
	File   *FileConfig
	Stderr bool // console output to stderr instead of stdout
}

// FileConfig contains file logging configuration
type FileConfig struct {
	Enabled  bool
	Path     string
	MaxSize  int
	MaxAge   int
	Compress bool
}

// redactedHeaders are matched as substrings of the lowercased header name
var redactedHeaders = []string{
	"authorization",
	"cookie",
	"x-api-key",
	"x-auth-token",
	"x-access-token",
	"bearer",
}

// New creates a logger writing to stdout (or stderr) and, when configured,
// teeing JSON lines to a file
func New(config Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", config.Level, err)
	}

	sink := zapcore.AddSync(os.Stdout)
	if config.Stderr {
		sink = zapcore.AddSync(os.Stderr)
	}
	cores := []zapcore.Core{zapcore.NewCore(newEncoder(config.Format), sink, level)}

	if config.File != nil && config.File.Enabled {
		core, err := fileCore(config.File.Path, level)
		if err != nil {
			return nil, err
		}
		cores = append(cores, core)
	}

	return &Logger{
		Logger: zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)),
	}, nil
}

func newEncoder(format string) zapcore.Encoder {
	if format == "console" {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewConsoleEncoder(cfg)
	}
	return zapcore.NewJSONEncoder(jsonEncoderConfig())
}

func jsonEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

func fileCore(path string, level zapcore.Level) (zapcore.Core, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return zapcore.NewCore(zapcore.NewJSONEncoder(jsonEncoderConfig()), zapcore.AddSync(file), level), nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// WithRequestID scopes the logger to one API request
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{Logger: l.Logger.With(zap.String("request_id", requestID))}
}

// WithComponent scopes the logger to one subsystem
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger.With(zap.String("component", component))}
}

// Fingerprint returns the hex SHA-256 of text. Input text is identified in
// logs and audit rows by this value only.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// TextFields describes text by length and fingerprint prefix.
func TextFields(text string) []zap.Field {
	return []zap.Field{
		zap.Int("text_length", len(text)),
		zap.String("text_sha256", Fingerprint(text)[:16]),
	}
}

// LogRequest logs an incoming API request with credential headers redacted.
// Bodies are never logged.
func (l *Logger) LogRequest(r *http.Request) {
	headers := make(map[string]string, len(r.Header))
	for name, values := range r.Header {
		switch {
		case isSensitiveHeader(name):
			headers[name] = "[REDACTED]"
		case len(values) > 0:
			headers[name] = values[0]
		}
	}

	l.Debug("HTTP request",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int64("content_length", r.ContentLength),
		zap.Any("headers", headers),
	)
}

func isSensitiveHeader(name string) bool {
	lower := strings.ToLower(name)
	for _, sensitive := range redactedHeaders {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}
