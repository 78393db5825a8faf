// Package ttlog provides the rotating log of the idle monitor daemon.
package ttlog

import (
	"io"
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LoggerOpts describes the logger options.
type LoggerOpts struct {
	// Filename is the name of log file. An empty name logs to stderr.
	Filename string
	// MaxSize is the maximum size in megabytes of the log file
	// before it gets rotated.
	MaxSize int
	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int
	// MaxAge is the maximum number of days to retain old log files
	// based on the timestamp encoded in their filename.
	MaxAge int
}

// Logger is an apex/log handler writing text records to a rotated file.
type Logger struct {
	log.Handler
	// ljLogger is an io.WriteCloser that writes to the specified filename.
	ljLogger *lumberjack.Logger
	// opts describes the parameters that were used to create the logger.
	opts LoggerOpts
}

// NewLogger creates a new object of Logger.
func NewLogger(opts LoggerOpts) *Logger {
	if opts.Filename == "" {
		return NewCustomLogger(os.Stderr)
	}
	ljLogger := &lumberjack.Logger{
		Filename:   opts.Filename,
		MaxSize:    opts.MaxSize,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAge,
		Compress:   false,
		LocalTime:  true,
	}
	return &Logger{Handler: text.New(ljLogger), ljLogger: ljLogger, opts: opts}
}

// NewCustomLogger creates a new logger writing to writer. Rotation does not
// work in this case. Such logger is widely used in tests.
func NewCustomLogger(writer io.Writer) *Logger {
	return &Logger{Handler: text.New(writer)}
}

// Rotate causes Logger to close the existing log file and immediately create a
// new one.
func (logger *Logger) Rotate() error {
	if logger.ljLogger == nil {
		return nil
	}

	return logger.ljLogger.Rotate()
}

// GetOpts returns the parameters that were used to create the logger.
func (logger *Logger) GetOpts() LoggerOpts {
	return logger.opts
}

// Close implements io.Closer, and closes the current logfile.
func (logger *Logger) Close() error {
	if logger.ljLogger == nil {
		return nil
	}

	return logger.ljLogger.Close()
}
