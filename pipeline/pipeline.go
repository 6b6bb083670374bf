// Package pipeline 串起一次完整的图片转 3D 模型：校验 -> 预处理 -> 生成。
//
// 重建模型和抠图会话都是进程内共享、第一次使用时才加载的单例；
// 服务端是并发的，所以同一时刻只允许一次 pipeline 调用在执行。
package pipeline

import (
	"context"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chaos-io/img2mesh/generator"
	"github.com/chaos-io/img2mesh/mesh"
	"github.com/chaos-io/img2mesh/model"
	"github.com/chaos-io/img2mesh/preprocess"
	"github.com/chaos-io/img2mesh/preprocess/rembg"
)

const (
	StageValidate   = "validate"
	StageLoad       = "load"
	StagePreprocess = "preprocess"
	StageGenerate   = "generate"
)

// Observer 接收每个阶段的耗时和结果，metrics.Collector 实现了它
type Observer interface {
	ObserveStage(stage string, d time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveStage(string, time.Duration, error) {}

type Result struct {
	ProcessedImage *image.RGBA
	Files          []string
	Duration       time.Duration
}

type Pipeline struct {
	mu sync.Mutex

	models   *model.Loader
	pre      *preprocess.Preprocessor
	gen      *generator.Generator
	observer Observer
	logger   *zap.Logger
}

type Option func(*Pipeline)

func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.observer = o
		}
	}
}

// WithClock 替换输出文件名使用的时间源
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.gen.WithClock(now)
	}
}

// New 只组装，不加载任何模型
func New(models *model.Loader, remover *rembg.Lazy, maxInputSize int, outputDir string, logger *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		models:   models,
		pre:      preprocess.NewPreprocessor(remover, maxInputSize, logger),
		gen:      generator.New(models, outputDir, logger),
		observer: nopObserver{},
		logger:   logger.With(zap.String("component", "pipeline")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) OutputDir() string {
	return p.gen.OutputDir()
}

// ModelLoaded 模型是否已成功加载
func (p *Pipeline) ModelLoaded() bool {
	return p.models.Loaded()
}

// Run 校验 -> 加载 -> 预处理 -> 生成，任何一步失败立即返回
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	if err := p.validate(req); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if req.Started != nil {
		req.Started()
	}

	if err := p.load(ctx); err != nil {
		return nil, err
	}

	processed, err := p.preprocess(ctx, req.Image, req.Options.RemoveBackground, req.Options.ForegroundRatio)
	if err != nil {
		return nil, err
	}

	files, err := p.generate(ctx, processed, req.Options)
	if err != nil {
		return nil, err
	}

	return &Result{
		ProcessedImage: processed,
		Files:          files,
		Duration:       time.Since(start),
	}, nil
}

// Preprocess 只做预处理，对应页面上先展示处理后图片的那一步
func (p *Pipeline) Preprocess(ctx context.Context, img image.Image, removeBackground bool, foregroundRatio float64) (*image.RGBA, error) {
	if img == nil {
		p.observer.ObserveStage(StageValidate, 0, ErrMissingInput)
		return nil, ErrMissingInput
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.preprocess(ctx, img, removeBackground, foregroundRatio)
}

// Generate 对已预处理的图片生成模型，必要时先加载模型
func (p *Pipeline) Generate(ctx context.Context, img image.Image, resolution int, formats []mesh.Format) ([]string, error) {
	if img == nil {
		p.observer.ObserveStage(StageValidate, 0, ErrMissingInput)
		return nil, ErrMissingInput
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.load(ctx); err != nil {
		return nil, err
	}
	return p.generate(ctx, img, Options{Resolution: resolution, Formats: formats})
}

func (p *Pipeline) validate(req Request) (err error) {
	defer p.observe(StageValidate, time.Now(), &err)

	if req.Image == nil {
		p.logger.Warn("no input image")
		return ErrMissingInput
	}
	return req.Options.Validate()
}

func (p *Pipeline) load(ctx context.Context) (err error) {
	if p.models.Loaded() {
		return nil
	}
	defer p.observe(StageLoad, time.Now(), &err)

	_, err = p.models.Get(ctx)
	return err
}

func (p *Pipeline) preprocess(ctx context.Context, img image.Image, removeBackground bool, ratio float64) (out *image.RGBA, err error) {
	defer p.observe(StagePreprocess, time.Now(), &err)

	out, err = p.pre.Preprocess(ctx, img, removeBackground, ratio)
	if err != nil {
		p.logger.Error("preprocess failed", zap.Error(err), zap.String("kind", Kind(err)))
	}
	return out, err
}

func (p *Pipeline) generate(ctx context.Context, img image.Image, opts Options) (files []string, err error) {
	defer p.observe(StageGenerate, time.Now(), &err)

	files, err = p.gen.Generate(ctx, img, opts.Resolution, opts.Formats)
	if err != nil {
		p.logger.Error("generate failed", zap.Error(err), zap.String("kind", Kind(err)))
	}
	return files, err
}

func (p *Pipeline) observe(stage string, start time.Time, err *error) {
	p.observer.ObserveStage(stage, time.Since(start), *err)
}
