package rembg

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrSessionUnavailable = errors.New("background removal session unavailable")
	ErrRemoveFailed       = errors.New("background removal failed")
)

// Remover 抠图：返回背景透明的 RGBA 图
type Remover interface {
	Remove(ctx context.Context, img image.Image) (*image.NRGBA, error)
}

// NewSessionFunc 创建抠图会话
type NewSessionFunc func(ctx context.Context) (Remover, error)

// Lazy 第一次 Remove 时才创建会话，之后复用；创建失败后不再重试，
// ctx 取消导致的失败除外
type Lazy struct {
	newSession NewSessionFunc
	logger     *zap.Logger

	mu      sync.Mutex
	done    bool
	session Remover
	err     error
}

func NewLazy(newSession NewSessionFunc, logger *zap.Logger) *Lazy {
	return &Lazy{
		newSession: newSession,
		logger:     logger.With(zap.String("component", "rembg")),
	}
}

func (l *Lazy) Session(ctx context.Context) (Remover, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.done {
		s, err := l.newSession(ctx)
		if err != nil && ctx.Err() != nil {
			l.logger.Warn("rembg session creation interrupted", zap.Error(err))
			return nil, fmt.Errorf("create rembg session: %w", ctx.Err())
		}
		l.done = true
		if err != nil {
			if !errors.Is(err, ErrSessionUnavailable) {
				err = fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
			}
			l.err = err
			l.logger.Error("failed to create rembg session", zap.Error(err))
		} else {
			l.session = s
			l.logger.Info("rembg session created")
		}
	}
	return l.session, l.err
}

func (l *Lazy) Remove(ctx context.Context, img image.Image) (*image.NRGBA, error) {
	s, err := l.Session(ctx)
	if err != nil {
		return nil, err
	}
	return s.Remove(ctx, img)
}
