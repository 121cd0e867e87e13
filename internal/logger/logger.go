package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultRotateMaxSize    = 100
	defaultRotateMaxBackups = 10
	defaultRotateMaxAge     = 7

	encodeTimeFormat = "2006-01-02 15:04:05.000"
)

var (
	CoreLogger *zap.SugaredLogger
	JobLogger  *zap.SugaredLogger

	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Config controls where and how verbosely logs are written.
type Config struct {
	Level    string
	File     string
	Compress bool
	Console  bool
}

func init() {
	log, err := zap.Config{
		Level:            level,
		Development:      true,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}.Build(zap.AddCaller(), zap.AddStacktrace(zap.WarnLevel), zap.AddCallerSkip(1))
	if err == nil {
		sugar := log.Sugar()
		SetCoreLogger(sugar)
		SetJobLogger(sugar.With("component", "jobs"))
	}
}

// Init replaces the default console loggers according to cfg.
func Init(cfg Config) error {
	if cfg.Level != "" {
		lvl, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return fmt.Errorf("parse log level: %w", err)
		}
		level.SetLevel(lvl)
	}
	if cfg.File == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return fmt.Errorf("mkdir log dir: %w", err)
	}
	rotate := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    defaultRotateMaxSize,
		MaxAge:     defaultRotateMaxAge,
		MaxBackups: defaultRotateMaxBackups,
		LocalTime:  true,
		Compress:   cfg.Compress,
	}
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(encodeTimeFormat)
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(rotate), level)
	if cfg.Console {
		console := zapcore.NewCore(zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), zapcore.Lock(os.Stderr), level)
		core = zapcore.NewTee(core, console)
	}
	log := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zap.WarnLevel), zap.AddCallerSkip(1))
	SetCoreLogger(log.Sugar())
	SetJobLogger(log.Sugar().With("component", "jobs"))
	return nil
}

// SetDebug toggles debug verbosity at runtime.
func SetDebug(on bool) {
	if on {
		level.SetLevel(zapcore.DebugLevel)
		return
	}
	level.SetLevel(zapcore.InfoLevel)
}

func SetCoreLogger(log *zap.SugaredLogger) { CoreLogger = log }

func SetJobLogger(log *zap.SugaredLogger) { JobLogger = log }

// Desugar exposes the structured logger, e.g. for the gorm adapter.
func Desugar() *zap.Logger { return CoreLogger.Desugar() }

func Sync() { _ = CoreLogger.Sync() }

type SugaredLoggerOnWith struct {
	withArgs []any
}

func With(args ...any) *SugaredLoggerOnWith {
	return &SugaredLoggerOnWith{withArgs: args}
}

func WithDataset(datasetID string) *SugaredLoggerOnWith {
	return &SugaredLoggerOnWith{withArgs: []any{"datasetID", datasetID}}
}

func WithJob(kind, jobID string) *SugaredLoggerOnWith {
	return &SugaredLoggerOnWith{withArgs: []any{"jobKind", kind, "jobID", jobID}}
}

func WithTrainingJob(jobID, datasetID string) *SugaredLoggerOnWith {
	return &SugaredLoggerOnWith{withArgs: []any{"jobID", jobID, "datasetID", datasetID}}
}

func WithModel(modelID, algorithm string) *SugaredLoggerOnWith {
	return &SugaredLoggerOnWith{withArgs: []any{"modelID", modelID, "algorithm", algorithm}}
}

func (log *SugaredLoggerOnWith) With(args ...any) *SugaredLoggerOnWith {
	args = append(args, log.withArgs...)
	return &SugaredLoggerOnWith{withArgs: args}
}

func (log *SugaredLoggerOnWith) Infof(template string, args ...any) {
	if !level.Enabled(zap.InfoLevel) {
		return
	}
	CoreLogger.Infow(fmt.Sprintf(template, args...), log.withArgs...)
}

func (log *SugaredLoggerOnWith) Warnf(template string, args ...any) {
	if !level.Enabled(zap.WarnLevel) {
		return
	}
	CoreLogger.Warnw(fmt.Sprintf(template, args...), log.withArgs...)
}

func (log *SugaredLoggerOnWith) Errorf(template string, args ...any) {
	if !level.Enabled(zap.ErrorLevel) {
		return
	}
	CoreLogger.Errorw(fmt.Sprintf(template, args...), log.withArgs...)
}

func (log *SugaredLoggerOnWith) Debugf(template string, args ...any) {
	if !level.Enabled(zap.DebugLevel) {
		return
	}
	CoreLogger.Debugw(fmt.Sprintf(template, args...), log.withArgs...)
}

func (log *SugaredLoggerOnWith) IsDebug() bool {
	return level.Enabled(zap.DebugLevel)
}

func Infof(template string, args ...any) {
	CoreLogger.Infof(template, args...)
}

func Warnf(template string, args ...any) {
	CoreLogger.Warnf(template, args...)
}

func Errorf(template string, args ...any) {
	CoreLogger.Errorf(template, args...)
}

func Debugf(template string, args ...any) {
	CoreLogger.Debugf(template, args...)
}
