// Package handler 对外的 HTTP 接口：上传图片、预处理、生成模型、查询任务。
package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chaos-io/img2mesh/mesh"
	"github.com/chaos-io/img2mesh/pipeline"
	"github.com/chaos-io/img2mesh/store"
	"github.com/chaos-io/img2mesh/util"
)

const outputRoute = "/output"

// Runner pipeline.Pipeline 的对外能力
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
	Preprocess(ctx context.Context, img image.Image, removeBackground bool, foregroundRatio float64) (*image.RGBA, error)
	ModelLoaded() bool
	OutputDir() string
}

type Handler struct {
	pipe   Runner
	jobs   store.Store
	build  BuildInfo
	now    func() time.Time
	logger *zap.Logger

	// backends 定时探测的后端连通性，未开启探测时为 nil
	backends func() map[string]bool
}

func New(pipe Runner, jobs store.Store, build BuildInfo, logger *zap.Logger) *Handler {
	return &Handler{
		pipe:   pipe,
		jobs:   jobs,
		build:  build,
		now:    time.Now,
		logger: logger.With(zap.String("component", "handler")),
	}
}

// WithBackendStatus 让 /health 附带后端探测结果
func (h *Handler) WithBackendStatus(status func() map[string]bool) *Handler {
	h.backends = status
	return h
}

// generateForm 表单字段，缺省的字段取页面默认值
type generateForm struct {
	RemoveBackground *bool    `form:"remove_background"`
	ForegroundRatio  *float64 `form:"foreground_ratio" binding:"omitempty,gte=0.5,lte=1"`
	Resolution       *int     `form:"mc_resolution" binding:"omitempty,gte=64,lte=512"`
	Formats          []string `form:"formats"`
}

func (f generateForm) options() (pipeline.Options, error) {
	opts := pipeline.DefaultOptions()
	if f.RemoveBackground != nil {
		opts.RemoveBackground = *f.RemoveBackground
	}
	if f.ForegroundRatio != nil {
		opts.ForegroundRatio = *f.ForegroundRatio
	}
	if f.Resolution != nil {
		opts.Resolution = *f.Resolution
	}
	if len(f.Formats) > 0 {
		formats, err := mesh.ParseFormats(f.Formats...)
		if err != nil {
			return opts, fmt.Errorf("%w: %w", pipeline.ErrInvalidOption, err)
		}
		opts.Formats = formats
	}
	return opts, nil
}

// GenerateResponse 生成成功的响应，路径都是可直接下载的 URL
type GenerateResponse struct {
	JobID          string   `json:"job_id"`
	ProcessedImage string   `json:"processed_image"`
	Files          []string `json:"files"`
	DurationMs     int64    `json:"duration_ms"`
}

// Generate POST /api/v1/generate
func (h *Handler) Generate(c *gin.Context) {
	req, err := h.bindRequest(c)
	if err != nil {
		h.fail(c, err, "")
		return
	}

	job := store.NewJob(h.now())
	job.RemoveBackground = req.Options.RemoveBackground
	job.ForegroundRatio = req.Options.ForegroundRatio
	job.Resolution = req.Options.Resolution
	for _, f := range req.Options.Formats {
		job.Formats = append(job.Formats, string(f))
	}
	// 排队等前一个任务时保持 pending
	h.saveJob(c.Request.Context(), job)

	logger := h.logger.With(zap.String("job_id", job.ID))
	req.Started = func() {
		job.Status = store.StatusRunning
		h.saveJob(c.Request.Context(), job)
		logger.Info("generation started",
			zap.Bool("remove_background", job.RemoveBackground),
			zap.Float64("foreground_ratio", job.ForegroundRatio),
			zap.Int("mc_resolution", job.Resolution),
			zap.Strings("formats", job.Formats))
	}

	res, err := h.pipe.Run(c.Request.Context(), req)
	if err == nil {
		job.ProcessedImage, err = h.saveProcessed(job.ID, res.ProcessedImage)
	}
	if err != nil {
		job.Finish(h.now(), errorKind(err), err)
		h.saveJob(context.WithoutCancel(c.Request.Context()), job)
		h.fail(c, err, job.ID)
		return
	}

	job.Files = res.Files
	job.Finish(h.now(), "", nil)
	h.saveJob(c.Request.Context(), job)
	logger.Info("generation finished", zap.Strings("files", res.Files), zap.Duration("cost", res.Duration))

	urls := make([]string, 0, len(res.Files))
	for _, f := range res.Files {
		urls = append(urls, fileURL(f))
	}
	c.JSON(http.StatusOK, GenerateResponse{
		JobID:          job.ID,
		ProcessedImage: fileURL(job.ProcessedImage),
		Files:          urls,
		DurationMs:     res.Duration.Milliseconds(),
	})
}

// Preprocess POST /api/v1/preprocess，返回处理后的 PNG
func (h *Handler) Preprocess(c *gin.Context) {
	req, err := h.bindRequest(c)
	if err != nil {
		h.fail(c, err, "")
		return
	}

	out, err := h.pipe.Preprocess(c.Request.Context(), req.Image, req.Options.RemoveBackground, req.Options.ForegroundRatio)
	if err != nil {
		h.fail(c, err, "")
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		h.fail(c, err, "")
		return
	}
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

// GetJob GET /api/v1/jobs/:id
func (h *Handler) GetJob(c *gin.Context) {
	job, err := h.jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Kind: "not_found"})
			return
		}
		h.logger.Error("failed to get job", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Kind: pipeline.KindInternal})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *Handler) bindRequest(c *gin.Context) (pipeline.Request, error) {
	var form generateForm
	if err := c.ShouldBind(&form); err != nil {
		return pipeline.Request{}, fmt.Errorf("%w: %w", pipeline.ErrInvalidOption, err)
	}
	opts, err := form.options()
	if err != nil {
		return pipeline.Request{}, err
	}

	img, err := formImage(c)
	if err != nil {
		return pipeline.Request{}, err
	}
	return pipeline.Request{Image: img, Options: opts}, nil
}

func formImage(c *gin.Context) (image.Image, error) {
	fh, err := c.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, pipeline.ErrMissingInput
		}
		return nil, fmt.Errorf("%w: %w", errInvalidImage, err)
	}
	return decodeUpload(fh)
}

func decodeUpload(fh *multipart.FileHeader) (image.Image, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidImage, err)
	}
	defer func() {
		_ = f.Close()
	}()

	img, err := util.DecodeImage(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidImage, err)
	}
	return img, nil
}

// saveProcessed 把预处理结果落盘，供页面展示
func (h *Handler) saveProcessed(jobID string, img *image.RGBA) (string, error) {
	path := filepath.Join(h.pipe.OutputDir(), fmt.Sprintf("processed_%s.png", jobID))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("save processed image: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	if err := png.Encode(f, img); err != nil {
		return "", fmt.Errorf("save processed image: %w", err)
	}
	return path, nil
}

func (h *Handler) saveJob(ctx context.Context, job *store.Job) {
	if err := h.jobs.Save(ctx, job); err != nil {
		h.logger.Warn("failed to save job", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (h *Handler) fail(c *gin.Context, err error, jobID string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err), zap.String("kind", errorKind(err)), zap.String("job_id", jobID))
	} else {
		h.logger.Warn("request rejected", zap.Error(err), zap.String("kind", errorKind(err)))
	}
	c.JSON(status, newErrorResponse(err, jobID))
}

func fileURL(path string) string {
	return outputRoute + "/" + filepath.Base(path)
}
