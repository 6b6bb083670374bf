// Package schedule 定时探测推理后端是否可用，把结果写入指标。
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const defaultProbeTimeout = 5 * time.Second

// Check 一个被探测的后端
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// Reporter 接收探测结果，metrics.Collector 实现了它
type Reporter interface {
	SetBackendUp(backend string, up bool)
}

type Prober struct {
	cron     *cron.Cron
	checks   []Check
	reporter Reporter
	timeout  time.Duration
	logger   *zap.Logger

	mu     sync.RWMutex
	status map[string]bool
}

// NewProber spec 为标准 cron 表达式或 @every 描述
func NewProber(spec string, checks []Check, reporter Reporter, logger *zap.Logger) (*Prober, error) {
	p := &Prober{
		cron:     cron.New(),
		checks:   checks,
		reporter: reporter,
		timeout:  defaultProbeTimeout,
		logger:   logger.With(zap.String("component", "prober")),
		status:   make(map[string]bool, len(checks)),
	}

	if _, err := p.cron.AddFunc(spec, func() {
		p.ProbeOnce(context.Background())
	}); err != nil {
		return nil, fmt.Errorf("invalid probe schedule %q: %w", spec, err)
	}
	return p, nil
}

func (p *Prober) Start() {
	p.logger.Info("health probe started", zap.Int("backends", len(p.checks)))
	p.cron.Start()
}

// Stop 等待正在执行的探测结束
func (p *Prober) Stop() {
	<-p.cron.Stop().Done()
}

// ProbeOnce 依次探测所有后端
func (p *Prober) ProbeOnce(ctx context.Context) {
	for _, c := range p.checks {
		pctx, cancel := context.WithTimeout(ctx, p.timeout)
		err := c.Ping(pctx)
		cancel()

		up := err == nil
		p.mu.Lock()
		prev, seen := p.status[c.Name]
		p.status[c.Name] = up
		p.mu.Unlock()

		if p.reporter != nil {
			p.reporter.SetBackendUp(c.Name, up)
		}

		// 只在状态变化时打日志
		if !seen || prev != up {
			if up {
				p.logger.Info("backend up", zap.String("backend", c.Name))
			} else {
				p.logger.Warn("backend down", zap.String("backend", c.Name), zap.Error(err))
			}
		}
	}
}

// Status 最近一次探测结果
func (p *Prober) Status() map[string]bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]bool, len(p.status))
	for k, v := range p.status {
		out[k] = v
	}
	return out
}
