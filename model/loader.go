package model

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// LoadFunc 真正的加载动作，由 Loader 保证最多执行一次
type LoadFunc func(ctx context.Context) (Reconstructor, error)

// Loader 进程级的懒加载模型句柄：第一次 Get 时加载，之后共享。
// 加载失败只记录一次日志，之后所有调用直接返回 ErrModelUnavailable，不重试；
// 因 ctx 取消而中断的加载不计入，下次调用会重新加载。
type Loader struct {
	load   LoadFunc
	logger *zap.Logger

	mu    sync.Mutex
	done  bool
	model Reconstructor
	err   error
}

func NewLoader(load LoadFunc, logger *zap.Logger) *Loader {
	return &Loader{
		load:   load,
		logger: logger.With(zap.String("component", "model_loader")),
	}
}

// Get 返回已加载的模型，必要时触发加载
func (l *Loader) Get(ctx context.Context) (Reconstructor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.done {
		l.logger.Info("loading reconstruction model")
		m, err := l.load(ctx)
		if err != nil && ctx.Err() != nil {
			// 调用方放弃了，不算加载失败，下次 Get 重新加载
			l.logger.Warn("model load interrupted", zap.Error(err))
			return nil, fmt.Errorf("load model: %w", ctx.Err())
		}
		l.done = true
		if err != nil {
			if !errors.Is(err, ErrModelUnavailable) {
				err = fmt.Errorf("%w: %w", ErrModelUnavailable, err)
			}
			l.err = err
			l.logger.Error("model load failed", zap.Error(err))
		} else {
			l.model = m
			l.logger.Info("model loaded", zap.String("device", m.Device()))
		}
	}

	if l.err != nil {
		return nil, l.err
	}
	return l.model, nil
}

// Current 不触发加载，只报告当前状态
func (l *Loader) Current() (Reconstructor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case !l.done:
		return nil, ErrModelNotLoaded
	case l.err != nil:
		return nil, l.err
	default:
		return l.model, nil
	}
}

// Loaded 是否已成功加载
func (l *Loader) Loaded() bool {
	_, err := l.Current()
	return err == nil
}
