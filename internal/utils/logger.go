package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger provides leveled logging with verbose mode support
type Logger struct {
	verbose bool
	mu      sync.RWMutex
}

var (
	globalLogger *Logger
	loggerOnce   sync.Once
)

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	loggerOnce.Do(func() {
		globalLogger = &Logger{
			verbose: false,
		}
	})
	return globalLogger
}

// SetVerbose enables or disables verbose logging
func (l *Logger) SetVerbose(verbose bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.verbose = verbose
}

// IsVerbose returns whether verbose logging is enabled
func (l *Logger) IsVerbose() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.verbose
}

// Debug logs a debug message (only when verbose is enabled)
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.IsVerbose() {
		log.Printf("[DEBUG] "+format, args...)
	}
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	log.Printf("[INFO] "+format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	log.Printf("[WARN] "+format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	log.Printf("[ERROR] "+format, args...)
}

// Debugf is a convenience function for debug logging
func Debugf(format string, args ...interface{}) {
	GetLogger().Debug(format, args...)
}

// Infof is a convenience function for info logging
func Infof(format string, args ...interface{}) {
	GetLogger().Info(format, args...)
}

// Warnf is a convenience function for warning logging
func Warnf(format string, args ...interface{}) {
	GetLogger().Warn(format, args...)
}

// Errorf is a convenience function for error logging
func Errorf(format string, args ...interface{}) {
	GetLogger().Error(format, args...)
}

// SetVerboseMode is a convenience function to set global verbose mode
func SetVerboseMode(verbose bool) {
	GetLogger().SetVerbose(verbose)
	if verbose {
		// Also set log flags to include timestamp and file info
		log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
		log.SetOutput(os.Stderr)
	} else {
		// Simplified output for normal mode
		log.SetFlags(0)
		log.SetOutput(os.Stderr)
	}
}

// LogOperation logs the start and end of an operation
func LogOperation(operation string, fn func() error) error {
	logger := GetLogger()
	logger.Debug("Starting operation: %s", operation)

	err := fn()

	if err != nil {
		logger.Debug("Operation failed: %s - %v", operation, err)
	} else {
		logger.Debug("Operation completed: %s", operation)
	}

	return err
}

// LogFileOptions controls rotation of a log file.
type LogFileOptions struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Tee keeps writing to stderr as well.
	Tee bool
}

// SetLogFile sends all log output to a size-rotated file. The returned
// closer restores stderr output and closes the file.
func SetLogFile(path string, opts LogFileOptions) (io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 10
	}

	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}
	var out io.Writer = file
	if opts.Tee {
		out = io.MultiWriter(os.Stderr, file)
	}
	log.SetOutput(out)
	return closerFunc(func() error {
		log.SetOutput(os.Stderr)
		return file.Close()
	}), nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// ENABLE_BACKGROUND_LOGGING turns the detached sync process log on or off.
const ENABLE_BACKGROUND_LOGGING = true

// BackgroundLogger writes the log of a detached sync process to a rotated
// file in the temp directory. A disabled logger discards everything.
type BackgroundLogger struct {
	logger  *log.Logger
	file    *lumberjack.Logger
	path    string
	enabled bool
}

// NewBackgroundLogger opens the log for this process. It never returns nil;
// on error the logger is disabled.
func NewBackgroundLogger() (*BackgroundLogger, error) {
	bl := &BackgroundLogger{logger: log.New(io.Discard, "", 0)}
	if !ENABLE_BACKGROUND_LOGGING {
		return bl, nil
	}

	path := filepath.Join(os.TempDir(), fmt.Sprintf("crmsync-_internal_background_sync-%d.log", os.Getpid()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return bl, fmt.Errorf("failed to open background log: %w", err)
	}
	_ = f.Close()

	bl.file = &lumberjack.Logger{Filename: path, MaxSize: 5, MaxBackups: 1}
	bl.logger = log.New(bl.file, "[Sync] ", log.LstdFlags)
	bl.path = path
	bl.enabled = true
	return bl, nil
}

func (bl *BackgroundLogger) Printf(format string, args ...interface{}) {
	bl.logger.Printf(format, args...)
}

func (bl *BackgroundLogger) Print(args ...interface{}) {
	bl.logger.Print(args...)
}

func (bl *BackgroundLogger) Println(args ...interface{}) {
	bl.logger.Println(args...)
}

// IsEnabled reports whether messages reach a file.
func (bl *BackgroundLogger) IsEnabled() bool {
	return bl.enabled
}

// GetLogPath returns the log file path, empty when disabled.
func (bl *BackgroundLogger) GetLogPath() string {
	return bl.path
}

// Close flushes and closes the log file. Safe to call more than once.
func (bl *BackgroundLogger) Close() error {
	if bl.file == nil {
		return nil
	}
	return bl.file.Close()
}
