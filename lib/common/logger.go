package common

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/lni/dragonboat/v4/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// dLogLogger implements the ILogger interface on top of a zap sugared logger.
// The level is filtered here, zap itself logs everything it gets.
type dLogLogger struct {
	name   string
	level  logger.LogLevel
	logger *zap.SugaredLogger
}

func (l *dLogLogger) SetLevel(level logger.LogLevel) {
	l.level = level
}

func (l *dLogLogger) Debugf(format string, args ...interface{}) {
	if l.level >= logger.DEBUG {
		l.logger.Debug(l.line(format, args...))
	}
}

func (l *dLogLogger) Infof(format string, args ...interface{}) {
	if l.level >= logger.INFO {
		l.logger.Info(l.line(format, args...))
	}
}

func (l *dLogLogger) Warningf(format string, args ...interface{}) {
	if l.level >= logger.WARNING {
		l.logger.Warn(l.line(format, args...))
	}
}

func (l *dLogLogger) Errorf(format string, args ...interface{}) {
	if l.level >= logger.ERROR {
		l.logger.Error(l.line(format, args...))
	}
}

func (l *dLogLogger) Panicf(format string, args ...interface{}) {
	if l.level >= logger.CRITICAL {
		l.logger.Panic(l.line(format, args...))
	}
}

// line formats a log message and prefixes it with the logger name
func (l *dLogLogger) line(format string, args ...interface{}) string {
	return fmt.Sprintf("%-15s | %s", l.name, fmt.Sprintf(format, args...))
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

var (
	baseOnce sync.Once
	base     *zap.SugaredLogger
)

// newZapLogger builds a console logger that writes lines like
// "2025/01/02 15:04:05 | INFO  | seglog          | message"
func newZapLogger(out zapcore.WriteSyncer) *zap.SugaredLogger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:          "time",
		LevelKey:         "level",
		MessageKey:       "msg",
		EncodeTime:       zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05"),
		EncodeLevel:      paddedLevelEncoder,
		ConsoleSeparator: " | ",
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), out, zapcore.DebugLevel)
	return zap.New(core).Sugar()
}

// paddedLevelEncoder writes the level in the fixed width the log lines are aligned on
func paddedLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	name := level.CapitalString()
	if level == zapcore.WarnLevel {
		name = "WARN"
	}
	enc.AppendString(fmt.Sprintf("%-5s", name))
}

// CreateLogger implements the dragonboat logger Factory
func CreateLogger(pkgName string) logger.ILogger {
	baseOnce.Do(func() {
		base = newZapLogger(zapcore.Lock(os.Stdout))
	})

	return &dLogLogger{
		name:   pkgName,
		level:  logger.INFO,
		logger: base,
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// ParseLogLevel converts a string level to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return logger.INFO, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// loggerNames lists every logger used by the packages of this module
var loggerNames = []string{"seglog", "store", "cli"}

var factoryOnce sync.Once

// InitLoggers installs the zap backed logger factory and sets the level of all loggers.
// It must run before the first logger.GetLogger call that should use the custom format,
// later calls only change the level.
func InitLoggers(config *Config) error {
	level, err := ParseLogLevel(config.LogLevel)
	if err != nil {
		return err
	}

	factoryOnce.Do(func() {
		logger.SetLoggerFactory(CreateLogger)
	})

	for _, name := range loggerNames {
		logger.GetLogger(name).SetLevel(level)
	}
	return nil
}

// Sync flushes buffered log lines
func Sync() {
	if base != nil {
		_ = base.Sync()
	}
}
