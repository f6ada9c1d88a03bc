package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/moby/term"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/minnowchess/minnow/internal"
)

// Logger wraps a zap logger with transient progress reporting. Structured
// events go through zap; the analysis progress line is rewritten in place
// when stderr is a terminal, and demoted to debug logging when it is not.
type Logger struct {
	zl  *zap.Logger
	out io.Writer
	tty bool

	mu          sync.Mutex
	transient   bool
	progressLen int
}

// New creates a Logger writing console-encoded output to stderr. Verbose
// enables debug-level logging.
func New(verbose bool) *Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.Lock(os.Stderr),
		level,
	)

	return &Logger{
		zl:  zap.New(core),
		out: os.Stderr,
		tty: term.IsTerminal(os.Stderr.Fd()),
	}
}

// NewForWriter creates a Logger for tests, writing to the given writer and
// treating it as a non-terminal unless tty is set.
func NewForWriter(w io.Writer, tty bool, level zapcore.Level) *Logger {
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(w),
		level,
	)
	return &Logger{zl: zap.New(core), out: w, tty: tty}
}

// Zap returns the underlying zap logger for components that only need
// structured logging.
func (l *Logger) Zap() *zap.Logger {
	return l.zl
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() error {
	return l.zl.Sync()
}

func (l *Logger) Debug(msg string, fields ...zap.Field) {
	l.clearProgress()
	l.zl.Debug(msg, fields...)
}

func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.clearProgress()
	l.zl.Info(msg, fields...)
}

func (l *Logger) Warn(msg string, fields ...zap.Field) {
	l.clearProgress()
	l.zl.Warn(msg, fields...)
}

func (l *Logger) Error(msg string, fields ...zap.Field) {
	l.clearProgress()
	l.zl.Error(msg, fields...)
}

// Progress reports analysis progress. On a terminal the line is transient
// and rewritten in place; otherwise it is logged at debug level so batch
// output stays readable.
func (l *Logger) Progress(bar StatusBar, at ProgressAt) {
	if !l.tty {
		l.zl.Debug("progress", zap.String("queue", bar.String()), zap.String("at", at.String()))
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	line := fmt.Sprintf("%s %s", bar, at)
	pad := l.progressLen - len(line)
	if pad < 0 {
		pad = 0
	}
	fmt.Fprintf(l.out, "\r%s%*s", line, pad, "")
	l.transient = true
	l.progressLen = len(line)
}

func (l *Logger) clearProgress() {
	if !l.tty {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.transient {
		fmt.Fprintf(l.out, "\r%*s\r", l.progressLen, "")
		l.transient = false
		l.progressLen = 0
	}
}

// StatusBar summarizes queue occupancy: positions awaiting analysis over
// the number of engine slots.
type StatusBar struct {
	Pending int
	Slots   int
}

func (b StatusBar) String() string {
	return fmt.Sprintf("[%d/%d]", b.Pending, b.Slots)
}

// ProgressAt names the location progress is being reported for. URL takes
// precedence over the raw batch id when the queue provided one.
type ProgressAt struct {
	BatchID internal.BatchID
	URL     string
}

func (p ProgressAt) String() string {
	if p.URL != "" {
		return p.URL
	}
	return string(p.BatchID)
}
