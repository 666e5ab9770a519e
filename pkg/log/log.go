// Package log 是进程共享的 zap SugaredLogger。
//
// Init 之前所有调用都落到 nop logger 上，单元测试不需要初始化日志。
package log

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// FileName 是 outputPath 目录下的日志文件名。
const FileName = "duplike.log"

var sugar = zap.NewNop().Sugar()

// Init 按配置替换全局 logger。
// level 无法解析时退回 info；format 为 "console" 时输出带颜色的文本，否则输出 JSON；
// outputPath 非空时额外写入 outputPath/duplike.log。
func Init(level, format, outputPath string) {
	cfg := newConfig(level, format, outputPath)
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	sugar = logger.Sugar()
}

func newConfig(level, format, outputPath string) zap.Config {
	lvl := zap.NewAtomicLevelAt(zap.InfoLevel)
	_ = lvl.UnmarshalText([]byte(level))

	var cfg zap.Config
	switch format {
	case "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		cfg = zap.NewProductionConfig()
		cfg.Encoding = "json"
	}
	cfg.Level = lvl
	cfg.OutputPaths = []string{"stdout"}
	if outputPath != "" {
		_ = os.MkdirAll(outputPath, 0o755)
		cfg.OutputPaths = append(cfg.OutputPaths, filepath.Join(outputPath, FileName))
	}
	return cfg
}

func Debugf(template string, args ...interface{}) { sugar.Debugf(template, args...) }

func Info(msg string) { sugar.Info(msg) }

func Infof(template string, args ...interface{}) { sugar.Infof(template, args...) }

// Infow 写一条带键值对的日志，键值成对出现，例如 Infow(msg, "tenant", id)。
func Infow(msg string, keysAndValues ...interface{}) { sugar.Infow(msg, keysAndValues...) }

func Warnf(template string, args ...interface{}) { sugar.Warnf(template, args...) }

func Warnw(msg string, keysAndValues ...interface{}) { sugar.Warnw(msg, keysAndValues...) }

// Error 把 err 作为 "error" 字段附在消息上。
func Error(msg string, err error) { sugar.Errorw(msg, "error", err) }

func Errorf(template string, args ...interface{}) { sugar.Errorf(template, args...) }

// Fatal 与 Error 相同，写完后以状态码 1 退出进程。
func Fatal(msg string, err error) { sugar.Fatalw(msg, "error", err) }

func Fatalf(template string, args ...interface{}) { sugar.Fatalf(template, args...) }

// Sync 刷新缓冲，进程退出前调用。
func Sync() { _ = sugar.Sync() }
