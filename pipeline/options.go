package pipeline

import (
	"fmt"
	"image"

	"github.com/chaos-io/img2mesh/generator"
	"github.com/chaos-io/img2mesh/mesh"
	"github.com/chaos-io/img2mesh/preprocess"
)

const DefaultForegroundRatio = 0.85

// Options 一次生成的参数
type Options struct {
	RemoveBackground bool          `json:"remove_background"`
	ForegroundRatio  float64       `json:"foreground_ratio"`
	Resolution       int           `json:"mc_resolution"`
	Formats          []mesh.Format `json:"formats"`
}

// DefaultOptions 与页面控件的默认值一致
func DefaultOptions() Options {
	return Options{
		RemoveBackground: true,
		ForegroundRatio:  DefaultForegroundRatio,
		Resolution:       generator.DefaultResolution,
		Formats:          append([]mesh.Format(nil), mesh.DefaultFormats...),
	}
}

func (o Options) Validate() error {
	if err := preprocess.ValidateRatio(o.ForegroundRatio); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOption, err)
	}
	if err := generator.ValidateResolution(o.Resolution); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOption, err)
	}
	if err := generator.ValidateFormats(o.Formats); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOption, err)
	}
	return nil
}

type Request struct {
	Image   image.Image
	Options Options

	// Started 拿到执行权、真正开始处理时回调一次，可为 nil
	Started func()
}
