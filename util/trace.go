package util

import (
	"time"

	"go.uber.org/zap"
)

// Trace 记录一段操作的耗时，用法：defer util.Trace("name")()
func Trace(name string) func() {
	start := time.Now()
	Logger.Debug("enter", zap.String("op", name))
	return func() {
		Logger.Info("exit", zap.String("op", name), zap.Duration("cost", time.Since(start)))
	}
}
