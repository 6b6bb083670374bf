package pipeline

import (
	"context"
	"errors"

	"github.com/chaos-io/img2mesh/generator"
	"github.com/chaos-io/img2mesh/mesh"
	"github.com/chaos-io/img2mesh/model"
	"github.com/chaos-io/img2mesh/preprocess"
	"github.com/chaos-io/img2mesh/preprocess/rembg"
)

var (
	ErrMissingInput  = errors.New("no input image")
	ErrInvalidOption = errors.New("invalid option")
)

// 错误类别，用于日志、任务记录、指标标签和 HTTP 响应
const (
	KindMissingInput      = "missing_input"
	KindInvalidOption     = "invalid_option"
	KindModelUnavailable  = "model_unavailable"
	KindModelNotLoaded    = "model_not_loaded"
	KindBackgroundRemoval = "background_removal"
	KindNoForeground      = "no_foreground"
	KindInferenceFailure  = "inference_failure"
	KindOutputExists      = "output_exists"
	KindExportFailure     = "export_failure"
	KindCanceled          = "canceled"
	KindInternal          = "internal"
)

// Kind 把错误归类，nil 返回空串
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingInput):
		return KindMissingInput
	case errors.Is(err, ErrInvalidOption),
		errors.Is(err, preprocess.ErrInvalidRatio),
		errors.Is(err, generator.ErrInvalidResolution),
		errors.Is(err, generator.ErrInvalidFormats):
		return KindInvalidOption
	case errors.Is(err, model.ErrModelUnavailable):
		return KindModelUnavailable
	case errors.Is(err, model.ErrModelNotLoaded):
		return KindModelNotLoaded
	case errors.Is(err, rembg.ErrSessionUnavailable), errors.Is(err, rembg.ErrRemoveFailed):
		return KindBackgroundRemoval
	case errors.Is(err, preprocess.ErrNoForeground):
		return KindNoForeground
	case errors.Is(err, model.ErrInferenceFailure):
		return KindInferenceFailure
	case errors.Is(err, mesh.ErrOutputExists):
		return KindOutputExists
	case errors.Is(err, mesh.ErrExportFailure):
		return KindExportFailure
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}
