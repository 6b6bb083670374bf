package rembg

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"mime/multipart"
	"net/http"
	"strings"

	"go.uber.org/zap"

	nhttp "github.com/chaos-io/img2mesh/util/http"
)

const (
	removePath = "/api/remove"
	healthPath = "/health"
)

type Config struct {
	Endpoint string
	Model    string
}

// Session 远程抠图服务的会话（u2net / BiRefNet 等模型跑在服务端）
type Session struct {
	endpoint string
	model    string
	cli      nhttp.IClient
	logger   *zap.Logger
}

// NewSession 建立会话并探测服务是否可用
func NewSession(ctx context.Context, cli nhttp.IClient, cfg Config, logger *zap.Logger) (*Session, error) {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		return nil, fmt.Errorf("%w: no endpoint configured", ErrSessionUnavailable)
	}

	s := &Session{
		endpoint: endpoint,
		model:    cfg.Model,
		cli:      cli,
		logger:   logger,
	}
	if err := s.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
	}
	return s, nil
}

// Ping 只探测服务是否在线，不建会话
func Ping(ctx context.Context, cli nhttp.IClient, endpoint string) error {
	s := &Session{endpoint: strings.TrimRight(endpoint, "/"), cli: cli}
	return s.Ping(ctx)
}

func (s *Session) Ping(ctx context.Context) error {
	return s.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: s.endpoint + healthPath,
		Method:     http.MethodGet,
	})
}

/*
	curl -X POST "$REMBG_URL/api/remove" \
	  -F "image=@my_image.png" \
	  -F "model=u2net"

返回 PNG（带 alpha）
*/
func (s *Session) Remove(ctx context.Context, img image.Image) (*image.NRGBA, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("image", "input.png")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if err := png.Encode(part, img); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	if s.model != "" {
		_ = writer.WriteField("model", s.model)
	}
	_ = writer.Close()

	var data []byte
	reqParam := &nhttp.RequestParam{
		RequestURI: s.endpoint + removePath,
		Method:     http.MethodPost,
		Header:     map[string]string{"Content-Type": writer.FormDataContentType()},
		Body:       body,
		Response:   &data,
	}
	if err := s.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemoveFailed, err)
	}

	out, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrRemoveFailed, err)
	}

	s.logger.Debug("background removed",
		zap.Int("width", out.Bounds().Dx()),
		zap.Int("height", out.Bounds().Dy()))
	return toNRGBA(out), nil
}

func toNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Bounds().Min == (image.Point{}) {
		return nrgba
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
