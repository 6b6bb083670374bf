package preprocess

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/chaos-io/img2mesh/testutil"
)

// whiteRemover 把接近白色的像素当背景
type whiteRemover struct {
	calls int
	size  image.Point
	err   error
}

func (r *whiteRemover) Remove(_ context.Context, img image.Image) (*image.NRGBA, error) {
	r.calls++
	r.size = img.Bounds().Size()
	if r.err != nil {
		return nil, r.err
	}
	out := toNRGBA(img)
	out = cloneNRGBA(out)
	for i := 0; i < len(out.Pix); i += 4 {
		if out.Pix[i] > 240 && out.Pix[i+1] > 240 && out.Pix[i+2] > 240 {
			out.Pix[i+3] = 0
		}
	}
	return out, nil
}

func newTestPreprocessor(r *whiteRemover) *Preprocessor {
	return NewPreprocessor(r, DefaultMaxInputSize, zap.NewNop())
}

func drawNRGBA(t *rapid.T, maxSize int) *image.NRGBA {
	w := rapid.IntRange(1, maxSize).Draw(t, "w")
	h := rapid.IntRange(1, maxSize).Draw(t, "h")
	pix := rapid.SliceOfN(rapid.Byte(), w*h*4, w*h*4).Draw(t, "pix")
	return &image.NRGBA{Pix: pix, Stride: w * 4, Rect: image.Rect(0, 0, w, h)}
}

func TestPreprocess_AlphaFlattenedOverGray(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		src := drawNRGBA(rt, 16)
		r := &whiteRemover{}

		got, err := newTestPreprocessor(r).Preprocess(context.Background(), src, false, 0.85)
		require.NoError(rt, err)
		require.Equal(rt, src.Bounds().Size(), got.Bounds().Size())
		require.Equal(rt, 0, r.calls)

		for y := 0; y < src.Bounds().Dy(); y++ {
			for x := 0; x < src.Bounds().Dx(); x++ {
				in := src.NRGBAAt(x, y)
				out := got.RGBAAt(x, y)
				a := float64(in.A) / 255
				want := func(v uint8) float64 { return (float64(v)/255*a + 0.5*(1-a)) * 255 }
				assert.InDelta(rt, want(in.R), float64(out.R), 1)
				assert.InDelta(rt, want(in.G), float64(out.G), 1)
				assert.InDelta(rt, want(in.B), float64(out.B), 1)
				assert.Equal(rt, uint8(255), out.A)
			}
		}
	})

	// 带 alpha 的有损 WebP 解码出来是 NYCbCrA
	t.Run("NYCbCrA", func(t *testing.T) {
		src := image.NewNYCbCrA(image.Rect(0, 0, 4, 4), image.YCbCrSubsampleRatio444)
		for i := range src.Y {
			src.Y[i], src.Cb[i], src.Cr[i] = 255, 128, 128
		}
		// A 全为 0：完全透明的白图
		got, err := newTestPreprocessor(&whiteRemover{}).Preprocess(context.Background(), src, false, 0.85)
		require.NoError(t, err)
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				assert.Equal(t, color.RGBA{R: 128, G: 128, B: 128, A: 255}, got.RGBAAt(x, y))
			}
		}

		// 不透明部分保留原色
		for i := range src.A {
			src.A[i] = 255
		}
		got, err = newTestPreprocessor(&whiteRemover{}).Preprocess(context.Background(), src, false, 0.85)
		require.NoError(t, err)
		assert.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, got.RGBAAt(1, 1))
	})
}

func TestPreprocess_NoAlphaIsIdentity(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		w := rapid.IntRange(1, 16).Draw(rt, "w")
		h := rapid.IntRange(1, 16).Draw(rt, "h")
		src := image.NewGray(image.Rect(0, 0, w, h))
		copy(src.Pix, rapid.SliceOfN(rapid.Byte(), w*h, w*h).Draw(rt, "pix"))

		got, err := newTestPreprocessor(&whiteRemover{}).Preprocess(context.Background(), src, false, 0.5)
		require.NoError(rt, err)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				g := src.GrayAt(x, y).Y
				require.Equal(rt, color.RGBA{R: g, G: g, B: g, A: 255}, got.RGBAAt(x, y))
			}
		}
	})
}

func TestPreprocess_OpaqueRGBAUnchanged(t *testing.T) {
	t.Parallel()

	src := testutil.ObjectOnWhite(8, image.Rect(2, 2, 5, 6), color.NRGBA{R: 17, G: 99, B: 201, A: 255})
	got, err := newTestPreprocessor(&whiteRemover{}).Preprocess(context.Background(), src, false, 1)
	require.NoError(t, err)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			c := src.NRGBAAt(x, y)
			assert.Equal(t, color.RGBA{R: c.R, G: c.G, B: c.B, A: 255}, got.RGBAAt(x, y))
		}
	}
}

func TestResizeForeground_Ratio(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		canvas := rapid.IntRange(4, 64).Draw(rt, "canvas")
		x0 := rapid.IntRange(0, canvas-1).Draw(rt, "x0")
		y0 := rapid.IntRange(0, canvas-1).Draw(rt, "y0")
		x1 := rapid.IntRange(x0+1, canvas).Draw(rt, "x1")
		y1 := rapid.IntRange(y0+1, canvas).Draw(rt, "y1")
		ratio := rapid.Float64Range(MinForegroundRatio, MaxForegroundRatio).Draw(rt, "ratio")

		src := image.NewNRGBA(image.Rect(0, 0, canvas, canvas))
		obj := image.Rect(x0, y0, x1, y1)
		for y := y0; y < y1; y++ {
			for x := x0; x < x1; x++ {
				src.SetNRGBA(x, y, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
			}
		}

		got, err := ResizeForeground(src, ratio)
		require.NoError(rt, err)
		size := got.Bounds().Dx()
		require.Equal(rt, size, got.Bounds().Dy(), "output must be square")

		bbox, err := alphaBBox(got, 0)
		require.NoError(rt, err)
		require.Equal(rt, obj.Size(), bbox.Size(), "subject is not resampled")

		longest := float64(max(bbox.Dx(), bbox.Dy()))
		assert.InDelta(rt, ratio*float64(size), longest, 1)

		// 居中：两次取整，两侧留白最多差 2 像素
		assert.InDelta(rt, float64(bbox.Min.X), float64(size-bbox.Max.X), 2)
		assert.InDelta(rt, float64(bbox.Min.Y), float64(size-bbox.Max.Y), 2)
	})
}

func TestPreprocess_RemoveBackground(t *testing.T) {
	t.Parallel()

	src := testutil.ObjectOnWhite(512, image.Rect(100, 150, 300, 450), color.NRGBA{R: 200, G: 30, B: 30, A: 255})
	r := &whiteRemover{}

	got, err := newTestPreprocessor(r).Preprocess(context.Background(), src, true, 0.85)
	require.NoError(t, err)
	assert.Equal(t, 1, r.calls)

	// 主体 200x300，最长边 300 / 0.85 = 352
	assert.Equal(t, image.Rect(0, 0, 352, 352), got.Bounds())
	assert.Equal(t, color.RGBA{R: 128, G: 128, B: 128, A: 255}, got.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{R: 200, G: 30, B: 30, A: 255}, got.RGBAAt(176, 176))
}

func TestPreprocess_RemoveBackgroundDropsAlpha(t *testing.T) {
	t.Parallel()

	// 输入自带的透明度在抠图前被丢弃
	src := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := range src.Pix {
		src.Pix[i] = 80
	}
	r := &whiteRemover{}
	got, err := newTestPreprocessor(r).Preprocess(context.Background(), src, true, 1)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 80, G: 80, B: 80, A: 255}, got.RGBAAt(1, 1))
	assert.Equal(t, uint8(80), src.Pix[3], "input must not be mutated")
}

func TestPreprocess_ClampsInputSize(t *testing.T) {
	t.Parallel()

	src := testutil.ObjectOnWhite(2048, image.Rect(500, 500, 1500, 1500), color.NRGBA{G: 255, A: 255})
	r := &whiteRemover{}
	_, err := newTestPreprocessor(r).Preprocess(context.Background(), src, true, 0.85)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(1024, 1024), r.size)
}

func TestPreprocess_Errors(t *testing.T) {
	t.Parallel()

	p := newTestPreprocessor(&whiteRemover{})
	white := testutil.ObjectOnWhite(16, image.Rectangle{}, color.NRGBA{})

	for _, ratio := range []float64{0.49, 1.01, -1} {
		_, err := p.Preprocess(context.Background(), white, false, ratio)
		assert.ErrorIs(t, err, ErrInvalidRatio)
	}

	_, err := p.Preprocess(context.Background(), white, true, 0.85)
	assert.ErrorIs(t, err, ErrNoForeground)

	boom := errors.New("segmentation backend down")
	_, err = newTestPreprocessor(&whiteRemover{err: boom}).Preprocess(context.Background(), white, true, 0.85)
	assert.ErrorIs(t, err, boom)
}
