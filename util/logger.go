package util

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Logger = zap.NewNop()

// InitLogger 初始化日志：控制台 + logs/app_<时间戳>.log，每次启动一个文件
func InitLogger(mode, logDir string) (string, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", fmt.Errorf("create log dir: %w", err)
	}

	logFile := filepath.Join(logDir, fmt.Sprintf("app_%s.log", Timestamp(time.Now())))
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("open log file: %w", err)
	}

	level := zap.NewAtomicLevelAt(zap.DebugLevel)
	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if mode == "release" {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
		consoleCfg = zap.NewProductionEncoderConfig()
		consoleCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	fileCfg := zap.NewProductionEncoderConfig()
	fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stdout), level),
		zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(f), level),
	)

	Logger = zap.New(core, zap.AddCaller())
	return logFile, nil
}

func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}
