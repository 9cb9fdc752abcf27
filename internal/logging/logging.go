// Package logging provides the leveled, structured logger threaded through
// every long-running component of the capture pipeline (streams, the
// synchronizer, calibrators, the bundle adjuster). Call sites log with
// key/value pairs, e.g. log.Info("stereo pair calibrated", "ports", [2]int{0, 1}, "rmse", rmse).
package logging

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity levels, ascending. Matches the small integer scale used
// throughout the pipeline's Logger interface so callers can gate verbosity
// without importing zap directly.
const (
	Debug int8 = iota - 1
	Info
	Warning
	Error
)

// Logger is the logging contract threaded through every component
// constructor in this module. A Logger must be safe for concurrent use by
// multiple goroutines, since streams, the synchronizer, and the bundle
// adjuster may all log from different goroutines at once.
type Logger interface {
	SetLevel(int8)
	Log(level int8, message string, params ...interface{})
	Debug(message string, params ...interface{})
	Info(message string, params ...interface{})
	Warning(message string, params ...interface{})
	Error(message string, params ...interface{})
}

// zapLogger is the default Logger implementation, writing structured,
// leveled entries to the provided io.Writer (typically a lumberjack.Logger
// wrapped for rotation, or io.MultiWriter combining several sinks).
type zapLogger struct {
	level  zap.AtomicLevel
	sugar  *zap.SugaredLogger
	closer func() error
}

// New constructs a Logger that writes JSON-encoded entries to out at the
// given starting verbosity. If suppress is true, Warning and Error entries
// are still recorded but Debug/Info calls are dropped at construction time
// regardless of later SetLevel calls narrower than Warning.
func New(level int8, out io.Writer, suppress bool) Logger {
	atom := zap.NewAtomicLevelAt(toZapLevel(level))

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(out), atom)
	if suppress {
		core = zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(out), zap.WarnLevel)
	}

	l := &zapLogger{level: atom, sugar: zap.New(core).Sugar()}
	return l
}

// NewFileLogger is a convenience constructor that writes only to a
// lumberjack-rotated file at path, using the given rotation settings.
func NewFileLogger(level int8, path string, maxSizeMB, maxBackups, maxAgeDays int) Logger {
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
	}
	l := New(level, lj, false)
	zl := l.(*zapLogger)
	zl.closer = lj.Close
	return zl
}

func (l *zapLogger) SetLevel(level int8) { l.level.SetLevel(toZapLevel(level)) }

func (l *zapLogger) Log(level int8, message string, params ...interface{}) {
	switch {
	case level <= Debug:
		l.sugar.Debugw(message, params...)
	case level == Info:
		l.sugar.Infow(message, params...)
	case level == Warning:
		l.sugar.Warnw(message, params...)
	default:
		l.sugar.Errorw(message, params...)
	}
}

func (l *zapLogger) Debug(message string, params ...interface{})   { l.Log(Debug, message, params...) }
func (l *zapLogger) Info(message string, params ...interface{})    { l.Log(Info, message, params...) }
func (l *zapLogger) Warning(message string, params ...interface{}) { l.Log(Warning, message, params...) }
func (l *zapLogger) Error(message string, params ...interface{})   { l.Log(Error, message, params...) }

func toZapLevel(level int8) zapcore.Level {
	switch {
	case level <= Debug:
		return zap.DebugLevel
	case level == Info:
		return zap.InfoLevel
	case level == Warning:
		return zap.WarnLevel
	default:
		return zap.ErrorLevel
	}
}

// Noop returns a Logger that discards everything; useful in tests that don't
// care about log output but need to satisfy a constructor signature.
func Noop() Logger {
	return New(Error+1, io.Discard, true)
}
