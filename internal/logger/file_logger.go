package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger writes leveled, component-scoped entries to a daily log file
type Logger struct {
	component string
	out       *output
}

// output is shared by every scoped Logger derived from the same root
type output struct {
	mu      sync.Mutex
	logFile *os.File
	logger  *log.Logger
	logDir  string
	now     func() time.Time
}

// LogLevel represents different types of log entries
type LogLevel string

const (
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARN"
	LogLevelError   LogLevel = "ERROR"
	LogLevelTrade   LogLevel = "TRADE"
	LogLevelStatus  LogLevel = "STATUS"
)

// NewLogger creates a file logger under logDir. When mirror is non-nil every
// entry is also written there (typically os.Stdout).
func NewLogger(logDir string, mirror io.Writer) (*Logger, error) {
	if logDir == "" {
		logDir = "logs"
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	filename := fmt.Sprintf("risk-core_%s.log", time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(logDir, filename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	var w io.Writer = file
	if mirror != nil {
		w = io.MultiWriter(file, mirror)
	}

	l := &Logger{out: &output{
		logFile: file,
		logger:  log.New(w, "", 0),
		logDir:  logDir,
		now:     time.Now,
	}}
	l.writeSessionHeader()
	return l, nil
}

// NewWriterLogger logs to an arbitrary writer without touching the filesystem
func NewWriterLogger(w io.Writer) *Logger {
	return &Logger{out: &output{logger: log.New(w, "", 0), now: time.Now}}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return NewWriterLogger(io.Discard)
}

// With returns a logger that tags entries with the component name
func (l *Logger) With(component string) *Logger {
	return &Logger{component: component, out: l.out}
}

func (l *Logger) writeSessionHeader() {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	header := fmt.Sprintf(`
================================================================================
RISK CORE SESSION STARTED
Started: %s
================================================================================`, l.out.now().Format("2006-01-02 15:04:05"))
	l.out.logger.Print(header)
}

// Log writes a formatted log entry with the specified level
func (l *Logger) Log(level LogLevel, format string, args ...interface{}) {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	timestamp := l.out.now().Format("2006-01-02 15:04:05")
	message := fmt.Sprintf(format, args...)
	if l.component != "" {
		l.out.logger.Printf("[%s] [%s] [%s] %s", timestamp, level, l.component, message)
		return
	}
	l.out.logger.Printf("[%s] [%s] %s", timestamp, level, message)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.Log(LogLevelInfo, format, args...)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, args ...interface{}) {
	l.Log(LogLevelWarning, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.Log(LogLevelError, format, args...)
}

// Trade logs an execution
func (l *Logger) Trade(format string, args ...interface{}) {
	l.Log(LogLevelTrade, format, args...)
}

// Status logs risk state information
func (l *Logger) Status(format string, args ...interface{}) {
	l.Log(LogLevelStatus, format, args...)
}

// LogError logs error with context
func (l *Logger) LogError(context string, err error) {
	l.Error("%s: %v", context, err)
}

// LogDecision logs the outcome of a validated proposal
func (l *Logger) LogDecision(symbol, action, outcome, reason string) {
	if reason == "" {
		l.Trade("%s %s -> %s", symbol, action, outcome)
		return
	}
	l.Trade("%s %s -> %s (%s)", symbol, action, outcome, reason)
}

// Close closes the log file
func (l *Logger) Close() error {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	if l.out.logFile == nil {
		return nil
	}
	l.out.logger.Printf(`
================================================================================
RISK CORE SESSION ENDED
Ended: %s
================================================================================
`, l.out.now().Format("2006-01-02 15:04:05"))
	err := l.out.logFile.Close()
	l.out.logFile = nil
	return err
}

// GetLogPath returns the current log file path
func (l *Logger) GetLogPath() string {
	if l.out.logDir == "" {
		return ""
	}
	return filepath.Join(l.out.logDir, fmt.Sprintf("risk-core_%s.log", l.out.now().Format("2006-01-02")))
}
