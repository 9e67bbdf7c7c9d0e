// Package audit provides the structured app/audit dual-logger, grounded on
// the teacher's internal/audit/logger.go: two zap loggers writing JSON
// through lumberjack rotating sinks, the audit sink always at info level,
// with a buffered-event flush (flush at 100 buffered events or a 1s
// ticker, whichever comes first).
package audit

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config configures the app and audit log sinks.
type Config struct {
	Level        string
	AppLogPath   string
	AuditLogPath string
	MaxSizeMB    int
	MaxBackups   int
	MaxAgeDays   int
	Compress     bool
}

// Logger is the dual app/audit logging facade used throughout the engine.
type Logger struct {
	app   *zap.Logger
	audit *zap.Logger

	mu     sync.Mutex
	buffer []Event
	done   chan struct{}
}

// Event is one structured audit log line.
type Event struct {
	Timestamp      time.Time `json:"timestamp"`
	CorrelationID  string    `json:"correlation_id"`
	EventType      string    `json:"event_type"`
	ConversationID string    `json:"conversation_id,omitempty"`
	ExecutionID    string    `json:"execution_id,omitempty"`
	ToolName       string    `json:"tool_name,omitempty"`
	Result         string    `json:"result,omitempty"`
	Detail         string    `json:"detail,omitempty"`
}

// New builds a Logger. Close must be called to flush and release
// resources.
func New(cfg Config) (*Logger, error) {
	level := zapcore.InfoLevel
	_ = level.Set(cfg.Level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encCfg)

	appCore := zapcore.NewCore(encoder, rotatingSink(cfg.AppLogPath, cfg), level)
	auditCore := zapcore.NewCore(encoder, rotatingSink(cfg.AuditLogPath, cfg), zapcore.InfoLevel)

	l := &Logger{
		app:   zap.New(appCore),
		audit: zap.New(auditCore),
		done:  make(chan struct{}),
	}
	go l.autoFlush()
	return l, nil
}

func rotatingSink(path string, cfg Config) zapcore.WriteSyncer {
	if path == "" {
		return zapcore.AddSync(os.Stdout)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	})
}

// App returns the application logger for general service logging.
func (l *Logger) App() *zap.Logger { return l.app }

// Log buffers an audit Event, flushing immediately once 100 events have
// accumulated.
func (l *Logger) Log(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	l.mu.Lock()
	l.buffer = append(l.buffer, ev)
	shouldFlush := len(l.buffer) >= 100
	l.mu.Unlock()
	if shouldFlush {
		l.flushLocked()
	}
}

func (l *Logger) flushLocked() {
	l.mu.Lock()
	pending := l.buffer
	l.buffer = nil
	l.mu.Unlock()
	for _, ev := range pending {
		l.audit.Info(ev.EventType,
			zap.Time("timestamp", ev.Timestamp),
			zap.String("correlation_id", ev.CorrelationID),
			zap.String("conversation_id", ev.ConversationID),
			zap.String("execution_id", ev.ExecutionID),
			zap.String("tool_name", ev.ToolName),
			zap.String("result", ev.Result),
			zap.String("detail", ev.Detail),
		)
	}
}

func (l *Logger) autoFlush() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.flushLocked()
		case <-l.done:
			return
		}
	}
}

// Close flushes remaining events and syncs both loggers.
func (l *Logger) Close() error {
	close(l.done)
	l.flushLocked()
	_ = l.app.Sync()
	return l.audit.Sync()
}
