package log

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogEnvironment represents the possible log environments.
type LogEnvironment string

const (
	// EnvironmentProduction production log environment.
	EnvironmentProduction = LogEnvironment("production")
	// EnvironmentDevelopment development log environment.
	EnvironmentDevelopment = LogEnvironment("development")
)

// Logger is a wrapper providing logging facilities.
type Logger struct {
	x *zap.SugaredLogger
}

// root logger
var log atomic.Pointer[Logger]

func getDefaultLog() *Logger {
	l := log.Load()
	if l != nil {
		return l
	}
	// default level: debug
	zapLogger, _, err := NewLogger(Config{
		Environment: EnvironmentDevelopment,
		Level:       "debug",
		Outputs:     []string{"stderr"},
	})
	if err != nil {
		panic(err)
	}
	l = &Logger{x: zapLogger}
	log.Store(l)

	return l
}

// Init the logger with defined level. outputs defines the outputs where the
// logs will be sent. By default outputs contains "stdout", which prints the
// logs at the output of the process. To add a log file as output, the path
// should be added at the outputs array. To avoid printing the logs but storing
// them on a log file, can use []string{"pathtofile.log"}
func Init(cfg Config) {
	zapLogger, _, err := NewLogger(cfg)
	if err != nil {
		panic(err)
	}
	log.Store(&Logger{x: zapLogger})
}

// NewLogger creates the logger with defined level. outputs defines the outputs where the
// logs will be sent. By default, outputs contains "stdout", which prints the
// logs at the output of the process. To add a log file as output, the path
// should be added at the outputs array. To avoid printing the logs but storing
// them on a log file, can use []string{"pathtofile.log"}
func NewLogger(cfg Config) (*zap.SugaredLogger, *zap.AtomicLevel, error) {
	var level zap.AtomicLevel
	err := level.UnmarshalText([]byte(cfg.Level))
	if err != nil {
		return nil, nil, fmt.Errorf("error on setting log level: %s", err)
	}

	var zapCfg zap.Config

	switch cfg.Environment {
	case EnvironmentProduction:
		zapCfg = zap.NewProductionConfig()
	default:
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zapCfg.Level = level
	zapCfg.OutputPaths = cfg.Outputs
	zapCfg.InitialFields = map[string]interface{}{
		"pid":      os.Getpid(),
		"hostname": getHostname(),
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, nil, err
	}
	defer logger.Sync() //nolint:errcheck

	// skip 2 callers: one for our wrapper methods and one for the package functions
	withOptions := logger.WithOptions(zap.AddCallerSkip(2)) //nolint:gomnd
	return withOptions.Sugar(), &level, nil
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return strings.TrimSpace(hostname)
}

// WithFields returns a new Logger (derived from the root one) with additional
// fields as per keyValuePairs. The root Logger instance is not affected.
func WithFields(keyValuePairs ...interface{}) *Logger {
	l := getDefaultLog().WithFields(keyValuePairs...)

	// since we are returning a new instance, remove one caller from the
	// stack, because we'll be calling the retruned Logger methods
	// directly, not the package functions.
	x := l.x.WithOptions(zap.AddCallerSkip(-1))
	l.x = x

	return l
}

// WithFields returns a new Logger with additional fields as per keyValuePairs.
// The original Logger instance is not affected.
func (l *Logger) WithFields(keyValuePairs ...interface{}) *Logger {
	return &Logger{
		x: l.x.With(keyValuePairs...),
	}
}

// GetSugaredLogger is a getter function that returns instance of already built zap logger
func (l *Logger) GetSugaredLogger() *zap.SugaredLogger {
	return l.x
}

// Debug calls log.Debug on the root Logger.
func (l *Logger) Debug(args ...interface{}) { l.x.Debug(args...) }

// Info calls log.Info on the root Logger.
func (l *Logger) Info(args ...interface{}) { l.x.Info(args...) }

// Warn calls log.Warn on the root Logger.
func (l *Logger) Warn(args ...interface{}) { l.x.Warn(args...) }

// Error calls log.Error on the root Logger.
func (l *Logger) Error(args ...interface{}) { l.x.Error(args...) }

// Fatal calls log.Fatal on the root Logger.
func (l *Logger) Fatal(args ...interface{}) { l.x.Fatal(args...) }

// Debugf calls log.Debugf on the root Logger.
func (l *Logger) Debugf(template string, args ...interface{}) { l.x.Debugf(template, args...) }

// Infof calls log.Infof on the root Logger.
func (l *Logger) Infof(template string, args ...interface{}) { l.x.Infof(template, args...) }

// Warnf calls log.Warnf on the root Logger.
func (l *Logger) Warnf(template string, args ...interface{}) { l.x.Warnf(template, args...) }

// Errorf calls log.Errorf on the root Logger.
func (l *Logger) Errorf(template string, args ...interface{}) { l.x.Errorf(template, args...) }

// Fatalf calls log.Fatalf on the root Logger.
func (l *Logger) Fatalf(template string, args ...interface{}) { l.x.Fatalf(template, args...) }

// Debug calls log.Debug on the root Logger.
func Debug(args ...interface{}) { getDefaultLog().Debug(args...) }

// Info calls log.Info on the root Logger.
func Info(args ...interface{}) { getDefaultLog().Info(args...) }

// Warn calls log.Warn on the root Logger.
func Warn(args ...interface{}) { getDefaultLog().Warn(args...) }

// Error calls log.Error on the root Logger.
func Error(args ...interface{}) { getDefaultLog().Error(args...) }

// Fatal calls log.Fatal on the root Logger.
func Fatal(args ...interface{}) { getDefaultLog().Fatal(args...) }

// Debugf calls log.Debugf on the root logger.
func Debugf(template string, args ...interface{}) { getDefaultLog().Debugf(template, args...) }

// Infof calls log.Infof on the root logger.
func Infof(template string, args ...interface{}) { getDefaultLog().Infof(template, args...) }

// Warnf calls log.Warnf on the root logger.
func Warnf(template string, args ...interface{}) { getDefaultLog().Warnf(template, args...) }

// Errorf calls log.Errorf on the root logger.
func Errorf(template string, args ...interface{}) { getDefaultLog().Errorf(template, args...) }

// Fatalf calls log.Fatalf on the root logger.
func Fatalf(template string, args ...interface{}) { getDefaultLog().Fatalf(template, args...) }
