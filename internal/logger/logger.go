package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"roadsafety/internal/config"

	"go.uber.org/multierr"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level file names, also used by the log endpoints.
const (
	InfoFile    = "info.log"
	WarningFile = "warning.log"
	ErrorFile   = "error.log"
)

const logFlags = log.Ldate | log.Ltime | log.Lshortfile

// Logger provides leveled logging (info/warning/error) to rotating files and stdout/stderr.
type Logger struct {
	infoLog    *log.Logger
	warningLog *log.Logger
	errorLog   *log.Logger
	logDir     string
	files      []*lumberjack.Logger
	mu         sync.Mutex
}

// NewLogger creates a Logger and ensures the log directory exists.
func NewLogger(cfg *config.Config) (*Logger, error) {
	if err := os.MkdirAll(cfg.LogDirectory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logger := &Logger{
		logDir: cfg.LogDirectory,
	}

	logger.setupLoggers(cfg.LogMaxSizeMB, cfg.LogMaxBackups)
	return logger, nil
}

// New creates a Logger that writes every level to out only.
func New(out io.Writer) *Logger {
	l := &Logger{}
	l.infoLog = log.New(out, "ℹ️  INFO    ", logFlags)
	l.warningLog = log.New(out, "⚠️  WARNING ", logFlags)
	l.errorLog = log.New(out, "❌ ERROR   ", logFlags)
	return l
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return New(io.Discard)
}

// setupLoggers initializes rotating writers and per-level loggers.
func (l *Logger) setupLoggers(maxSizeMB, maxBackups int) {
	infoFile := l.openLogFile(InfoFile, maxSizeMB, maxBackups)
	warningFile := l.openLogFile(WarningFile, maxSizeMB, maxBackups)
	errorFile := l.openLogFile(ErrorFile, maxSizeMB, maxBackups)

	infoWriter := io.MultiWriter(os.Stdout, infoFile)
	warningWriter := io.MultiWriter(os.Stdout, warningFile)
	errorWriter := io.MultiWriter(os.Stderr, errorFile)

	l.infoLog = log.New(infoWriter, "ℹ️  INFO    ", logFlags)
	l.warningLog = log.New(warningWriter, "⚠️  WARNING ", logFlags)
	l.errorLog = log.New(errorWriter, "❌ ERROR   ", logFlags)
}

// openLogFile returns a size-rotated appender for a level file.
func (l *Logger) openLogFile(name string, maxSizeMB, maxBackups int) *lumberjack.Logger {
	file := &lumberjack.Logger{
		Filename:   filepath.Join(l.logDir, name),
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	}
	l.files = append(l.files, file)
	return file
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoLog.Output(2, fmt.Sprintf(format, v...))
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warningLog.Output(2, fmt.Sprintf(format, v...))
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorLog.Output(2, fmt.Sprintf(format, v...))
}

// Dir is the directory holding the level files, empty for writer-only loggers.
func (l *Logger) Dir() string {
	return l.logDir
}

// CleanLogs truncates the specified log file.
func (l *Logger) CleanLogs(fileName string) error {
	if l.logDir == "" {
		return fmt.Errorf("logger has no log directory")
	}
	if fileName != InfoFile && fileName != WarningFile && fileName != ErrorFile {
		return fmt.Errorf("unknown log file: %s", fileName)
	}

	path := filepath.Join(l.logDir, fileName)
	l.mu.Lock()
	// The appender reopens in append mode on its next write.
	for _, f := range l.files {
		if f.Filename == path {
			f.Close()
		}
	}
	err := os.Truncate(path, 0)
	l.mu.Unlock()
	if err != nil && !os.IsNotExist(err) {
		l.Error("Error truncating %s: %v", fileName, err)
		return err
	}

	l.Info("File %s has been cleared.", fileName)
	return nil
}

// Close releases the level files.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var err error
	for _, f := range l.files {
		err = multierr.Append(err, f.Close())
	}
	return err
}
