// Package preprocess 把上传的任意图片变成重建模型的输入：
// 不透明 RGB、主体居中、背景为 50% 灰。
package preprocess

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"go.uber.org/zap"

	"github.com/chaos-io/img2mesh/preprocess/rembg"
)

const (
	MinForegroundRatio = 0.5
	MaxForegroundRatio = 1.0

	// BackgroundGray 填充背景的灰度（0~1）
	BackgroundGray = 0.5

	DefaultMaxInputSize = 1024
)

var (
	ErrNoForeground = errors.New("no foreground detected")
	ErrInvalidRatio = errors.New("foreground ratio out of range [0.5, 1.0]")
)

type Preprocessor struct {
	RemBG rembg.Remover
	// MaxInputSize 抠图前最长边上限，0 表示不缩放
	MaxInputSize int

	logger *zap.Logger
}

func NewPreprocessor(remover rembg.Remover, maxInputSize int, logger *zap.Logger) *Preprocessor {
	return &Preprocessor{
		RemBG:        remover,
		MaxInputSize: maxInputSize,
		logger:       logger.With(zap.String("component", "preprocess")),
	}
}

// ValidateRatio 前景比例必须在 [0.5, 1.0]
func ValidateRatio(ratio float64) error {
	if math.IsNaN(ratio) || ratio < MinForegroundRatio || ratio > MaxForegroundRatio {
		return fmt.Errorf("%w: %v", ErrInvalidRatio, ratio)
	}
	return nil
}

// Preprocess 对一张图片做预处理，结果总是不透明的 RGB：
//
//	removeBackground=true  转 RGB -> 抠图 -> 主体按 foregroundRatio 居中 -> 灰底合成
//	removeBackground=false 原样返回；带 alpha 通道时合成到灰底
func (p *Preprocessor) Preprocess(ctx context.Context, img image.Image, removeBackground bool, foregroundRatio float64) (*image.RGBA, error) {
	if err := ValidateRatio(foregroundRatio); err != nil {
		return nil, err
	}

	if !removeBackground {
		if hasAlphaChannel(img) {
			return FillBackground(toNRGBA(img), BackgroundGray), nil
		}
		return toRGBA(img), nil
	}

	src := resizeWithinMax(toOpaque(img), p.MaxInputSize)

	removed, err := p.RemBG.Remove(ctx, src)
	if err != nil {
		return nil, err
	}

	centered, err := ResizeForeground(removed, foregroundRatio)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("image preprocessed",
		zap.Int("src_width", img.Bounds().Dx()),
		zap.Int("src_height", img.Bounds().Dy()),
		zap.Int("size", centered.Bounds().Dx()),
		zap.Float64("foreground_ratio", foregroundRatio))

	return FillBackground(centered, BackgroundGray), nil
}

// ResizeForeground 按 alpha>0 的包围盒裁出主体，先补成正方形，
// 再按比例四周补透明边，使主体最长边占画面的 ratio。不做重采样。
func ResizeForeground(img *image.NRGBA, ratio float64) (*image.NRGBA, error) {
	if err := ValidateRatio(ratio); err != nil {
		return nil, err
	}

	bbox, err := alphaBBox(img, 0)
	if err != nil {
		return nil, err
	}

	size := max(bbox.Dx(), bbox.Dy())
	newSize := int(float64(size) / ratio)

	// 两次居中补边合并成一次偏移
	offX := (size-bbox.Dx())/2 + (newSize-size)/2
	offY := (size-bbox.Dy())/2 + (newSize-size)/2

	dst := image.NewNRGBA(image.Rect(0, 0, newSize, newSize))
	pasteAt(dst, img, bbox, image.Pt(offX, offY))
	return dst, nil
}

// FillBackground 把带透明度的图合成到纯色背景：out = fg*a + bg*(1-a)，逐通道在 [0,1] 计算后四舍五入回 8 位
func FillBackground(img *image.NRGBA, bg float64) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		so := img.PixOffset(b.Min.X, b.Min.Y+y)
		src := img.Pix[so : so+b.Dx()*4]
		out := dst.Pix[y*dst.Stride : y*dst.Stride+b.Dx()*4]
		for i := 0; i < len(src); i += 4 {
			a := float64(src[i+3]) / 255.0
			for c := 0; c < 3; c++ {
				fg := float64(src[i+c]) / 255.0
				out[i+c] = quantize(fg*a + bg*(1-a))
			}
			out[i+3] = 255
		}
	}
	return dst
}

func quantize(v float64) uint8 {
	return uint8(math.Max(0, math.Min(255, v*255.0+0.5)))
}
