package logger

import (
	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"os"
	"strings"
	"tradeflow/conf"
)

// 未初始化时使用 nop，避免单元测试输出大量日志
var (
	zl    = zap.NewNop()
	sugar = zl.Sugar()
)

// InitLogger 根据配置初始化全局日志，文件按大小切割
func InitLogger(cfg *conf.LogConfig, appName string) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	if cfg.TimeFormat != "" {
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout(cfg.TimeFormat)
	} else {
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	level := parseLevel(cfg.Level)
	var cores []zapcore.Core
	if cfg.FileName != "" {
		w := &lumberjack.Logger{
			Filename:   cfg.FileName,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
			LocalTime:  cfg.LocalTime,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(w), level))
	}
	if cfg.Console || len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stdout), level))
	}

	zl = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1)).
		With(zap.String("app", appName))
	sugar = zl.Sugar()
}

// SetLogger 替换全局日志（测试用）
func SetLogger(l *zap.Logger) {
	zl = l.WithOptions(zap.AddCallerSkip(1))
	sugar = zl.Sugar()
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Pair 构造一个结构化字段
func Pair(key string, v any) zap.Field {
	return zap.Any(key, v)
}

func Debug(msg string, fields ...zap.Field) { zl.Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { zl.Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { zl.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { zl.Error(msg, fields...) }

func Fatal(msg string, fields ...zap.Field) { zl.Fatal(msg, fields...) }

func Debugf(format string, args ...any) { sugar.Debugf(format, args...) }
func Infof(format string, args ...any)  { sugar.Infof(format, args...) }
func Warnf(format string, args ...any)  { sugar.Warnf(format, args...) }
func Errorf(format string, args ...any) { sugar.Errorf(format, args...) }

// Sync 刷新缓冲，退出前调用
func Sync() error {
	return zl.Sync()
}
