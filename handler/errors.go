package handler

import (
	"errors"
	"net/http"

	"github.com/chaos-io/img2mesh/pipeline"
	"github.com/chaos-io/img2mesh/preprocess/rembg"
)

var errInvalidImage = errors.New("uploaded file is not a decodable image")

const kindInvalidImage = "invalid_image"

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	JobID string `json:"job_id,omitempty"`
}

func errorKind(err error) string {
	if errors.Is(err, errInvalidImage) {
		return kindInvalidImage
	}
	return pipeline.Kind(err)
}

// statusFor 错误类别 -> HTTP 状态码
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	if errors.Is(err, rembg.ErrSessionUnavailable) {
		return http.StatusServiceUnavailable
	}

	switch errorKind(err) {
	case pipeline.KindMissingInput, pipeline.KindInvalidOption, kindInvalidImage:
		return http.StatusBadRequest
	case pipeline.KindNoForeground:
		return http.StatusUnprocessableEntity
	case pipeline.KindModelUnavailable, pipeline.KindModelNotLoaded:
		return http.StatusServiceUnavailable
	case pipeline.KindInferenceFailure, pipeline.KindBackgroundRemoval:
		return http.StatusBadGateway
	case pipeline.KindOutputExists:
		return http.StatusConflict
	case pipeline.KindCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func newErrorResponse(err error, jobID string) ErrorResponse {
	return ErrorResponse{
		Error: err.Error(),
		Kind:  errorKind(err),
		JobID: jobID,
	}
}
