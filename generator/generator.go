package generator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chaos-io/img2mesh/mesh"
	"github.com/chaos-io/img2mesh/model"
	"github.com/chaos-io/img2mesh/util"
)

const (
	MinResolution     = 64
	MaxResolution     = 512
	DefaultResolution = 256

	DefaultOutputDir = "output"
)

var (
	ErrInvalidResolution = errors.New("mesh resolution out of range [64, 512]")
	ErrInvalidFormats    = errors.New("invalid output formats")
)

// ModelSource 提供当前已加载的模型，未加载时返回 model.ErrModelNotLoaded
type ModelSource interface {
	Current() (model.Reconstructor, error)
}

type Generator struct {
	models    ModelSource
	outputDir string
	now       func() time.Time
	logger    *zap.Logger
}

func New(models ModelSource, outputDir string, logger *zap.Logger) *Generator {
	if outputDir == "" {
		outputDir = DefaultOutputDir
	}
	return &Generator{
		models:    models,
		outputDir: outputDir,
		now:       time.Now,
		logger:    logger.With(zap.String("component", "generator")),
	}
}

// WithClock 替换时间源，文件名里的时间戳来自这里
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

func (g *Generator) OutputDir() string {
	return g.outputDir
}

func ValidateResolution(resolution int) error {
	if resolution < MinResolution || resolution > MaxResolution {
		return fmt.Errorf("%w: %d", ErrInvalidResolution, resolution)
	}
	return nil
}

// ValidateFormats 至少一种，不重复，且都能导出
func ValidateFormats(formats []mesh.Format) error {
	if len(formats) == 0 {
		return fmt.Errorf("%w: no format requested", ErrInvalidFormats)
	}
	seen := make(map[mesh.Format]bool, len(formats))
	for _, f := range formats {
		if !f.Valid() {
			return fmt.Errorf("%w: %w: %q", ErrInvalidFormats, mesh.ErrUnknownFormat, f)
		}
		if seen[f] {
			return fmt.Errorf("%w: duplicate %q", ErrInvalidFormats, f)
		}
		seen[f] = true
	}
	return nil
}

// Generate 推理 -> 提取网格 -> 转到标准朝向 -> 按格式导出。
// 返回的路径与 formats 一一对应、顺序相同，同一次调用共用一个时间戳。
func (g *Generator) Generate(ctx context.Context, img image.Image, resolution int, formats []mesh.Format) ([]string, error) {
	if err := ValidateResolution(resolution); err != nil {
		return nil, err
	}
	if err := ValidateFormats(formats); err != nil {
		return nil, err
	}

	m, err := g.models.Current()
	if err != nil {
		return nil, err
	}

	g.logger.Info("generating 3d model", zap.Int("resolution", resolution), zap.String("device", m.Device()))

	done := util.Trace("infer")
	enc, err := m.Infer(ctx, img)
	done()
	if err != nil {
		return nil, asInferenceFailure(err)
	}

	g.logger.Info("extracting mesh")
	done = util.Trace("extract_mesh")
	raw, err := m.ExtractMesh(ctx, enc, resolution)
	done()
	if err != nil {
		return nil, asInferenceFailure(err)
	}
	if err := raw.Validate(); err != nil {
		return nil, asInferenceFailure(err)
	}
	lo, hi := raw.Bounds()
	g.logger.Debug("mesh extracted",
		zap.Int("vertices", len(raw.Vertices)),
		zap.Int("faces", len(raw.Faces)),
		zap.Float64s("min", []float64{lo.X, lo.Y, lo.Z}),
		zap.Float64s("max", []float64{hi.X, hi.Y, hi.Z}))

	oriented := mesh.ToCanonicalOrientation(raw)

	if err := os.MkdirAll(g.outputDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("%w: create output dir: %w", mesh.ErrExportFailure, err)
	}

	return g.export(ctx, oriented, formats)
}

func (g *Generator) export(ctx context.Context, m *mesh.Mesh, formats []mesh.Format) ([]string, error) {
	timestamp := util.Timestamp(g.now())
	paths := make([]string, len(formats))

	eg, ctx := errgroup.WithContext(ctx)
	for i, f := range formats {
		paths[i] = filepath.Join(g.outputDir, fmt.Sprintf("model_%s.%s", timestamp, f.Ext()))
		path := paths[i]
		eg.Go(func() error {
			// 已有格式失败时其余格式不再开始
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := mesh.Export(m, f, path); err != nil {
				return err
			}
			g.logger.Info("model saved", zap.String("format", string(f)), zap.String("path", path))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		g.logger.Error("export failed", zap.Error(err))
		return nil, err
	}

	g.logger.Info("3d model generated", zap.Strings("files", paths))
	return paths, nil
}

func asInferenceFailure(err error) error {
	if errors.Is(err, model.ErrInferenceFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", model.ErrInferenceFailure, err)
}
