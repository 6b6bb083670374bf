package model

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/golang/geo/r3"
	"go.uber.org/zap"

	"github.com/chaos-io/img2mesh/mesh"
	nhttp "github.com/chaos-io/img2mesh/util/http"
)

const (
	devicesPath = "/v1/devices"
	loadPath    = "/v1/models/load"
	inferPath   = "/v1/infer"
	extractPath = "/v1/extract_mesh"
	healthPath  = "/health"

	configName = "config.yaml"
	weightName = "model.ckpt"
)

type Config struct {
	Endpoint  string
	ModelPath string
	Device    string
}

// TSR 推理后端上加载好的 TripoSR 风格模型句柄，设备在加载时确定
type TSR struct {
	endpoint string
	modelID  string
	device   string
	cli      nhttp.IClient
	logger   *zap.Logger
}

type devicesResp struct {
	Accelerators []string `json:"accelerators"`
}

type loadReq struct {
	ModelPath  string `json:"model_path"`
	ConfigName string `json:"config_name"`
	WeightName string `json:"weight_name"`
	Device     string `json:"device"`
	ChunkSize  int    `json:"chunk_size"`
}

type loadResp struct {
	ModelID string `json:"model_id"`
}

type inferResp struct {
	EncodingID string `json:"encoding_id"`
}

type extractReq struct {
	ModelID        string `json:"model_id"`
	EncodingID     string `json:"encoding_id"`
	Resolution     int    `json:"resolution"`
	ChunkSize      int    `json:"chunk_size"`
	HasVertexColor bool   `json:"has_vertex_color"`
}

type extractResp struct {
	Vertices     [][3]float64 `json:"vertices"`
	Faces        [][3]int     `json:"faces"`
	VertexColors [][3]float64 `json:"vertex_colors"`
}

// Load 选择设备并让后端加载权重。任何失败都归为 ErrModelUnavailable。
func Load(ctx context.Context, cli nhttp.IClient, cfg Config, logger *zap.Logger) (*TSR, error) {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		return nil, fmt.Errorf("%w: no backend endpoint configured", ErrModelUnavailable)
	}

	device, err := resolveDevice(ctx, cli, endpoint, cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	logger.Info("using device", zap.String("device", device))

	resp := &loadResp{}
	err = cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: endpoint + loadPath,
		Method:     http.MethodPost,
		Body: &loadReq{
			ModelPath:  cfg.ModelPath,
			ConfigName: configName,
			WeightName: weightName,
			Device:     device,
			ChunkSize:  ChunkSize,
		},
		Response: resp,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %w", ErrModelUnavailable, cfg.ModelPath, err)
	}
	if resp.ModelID == "" {
		return nil, fmt.Errorf("%w: backend returned no model id", ErrModelUnavailable)
	}

	logger.Info("reconstruction backend ready", zap.String("model_id", resp.ModelID), zap.String("device", device))
	return &TSR{
		endpoint: endpoint,
		modelID:  resp.ModelID,
		device:   device,
		cli:      cli,
		logger:   logger,
	}, nil
}

// resolveDevice 显式指定时原样使用；auto 优先第一个加速器，否则 cpu
func resolveDevice(ctx context.Context, cli nhttp.IClient, endpoint, want string) (string, error) {
	if want != "" && want != DeviceAuto {
		return want, nil
	}
	resp := &devicesResp{}
	err := cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: endpoint + devicesPath,
		Method:     http.MethodGet,
		Response:   resp,
	})
	if err != nil {
		return "", fmt.Errorf("query devices: %w", err)
	}
	if len(resp.Accelerators) > 0 {
		return resp.Accelerators[0], nil
	}
	return DeviceCPU, nil
}

func (t *TSR) Device() string {
	return t.device
}

// Infer 单张图片推理，得到场景编码（后端以只读、无梯度方式执行）
func (t *TSR) Infer(ctx context.Context, img image.Image) (SceneEncoding, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("image", "input.png")
	if err != nil {
		return SceneEncoding{}, fmt.Errorf("create form file: %w", err)
	}
	if err := png.Encode(part, img); err != nil {
		return SceneEncoding{}, fmt.Errorf("encode image: %w", err)
	}
	_ = writer.WriteField("model_id", t.modelID)
	_ = writer.WriteField("device", t.device)
	_ = writer.Close()

	resp := &inferResp{}
	err = t.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: t.endpoint + inferPath,
		Method:     http.MethodPost,
		Header:     map[string]string{"Content-Type": writer.FormDataContentType()},
		Body:       body,
		Response:   resp,
	})
	if err != nil {
		return SceneEncoding{}, fmt.Errorf("%w: infer: %w", ErrInferenceFailure, err)
	}
	if resp.EncodingID == "" {
		return SceneEncoding{}, fmt.Errorf("%w: infer: empty scene encoding", ErrInferenceFailure)
	}
	return SceneEncoding{ID: resp.EncodingID}, nil
}

// ExtractMesh 在给定体素分辨率下从场景编码提取带顶点色的网格
func (t *TSR) ExtractMesh(ctx context.Context, enc SceneEncoding, resolution int) (*mesh.Mesh, error) {
	resp := &extractResp{}
	err := t.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: t.endpoint + extractPath,
		Method:     http.MethodPost,
		Body: &extractReq{
			ModelID:        t.modelID,
			EncodingID:     enc.ID,
			Resolution:     resolution,
			ChunkSize:      ChunkSize,
			HasVertexColor: true,
		},
		Response: resp,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: extract mesh: %w", ErrInferenceFailure, err)
	}

	m := &mesh.Mesh{
		Vertices: make([]r3.Vector, len(resp.Vertices)),
		Faces:    resp.Faces,
		Colors:   resp.VertexColors,
	}
	for i, v := range resp.Vertices {
		m.Vertices[i] = r3.Vector{X: v[0], Y: v[1], Z: v[2]}
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: extract mesh: %w", ErrInferenceFailure, err)
	}

	t.logger.Debug("mesh extracted",
		zap.Int("vertices", len(m.Vertices)),
		zap.Int("faces", len(m.Faces)),
		zap.Int("resolution", resolution))
	return m, nil
}

// Ping 后端健康检查，供定时探测使用
func Ping(ctx context.Context, cli nhttp.IClient, endpoint string) error {
	return cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: strings.TrimRight(endpoint, "/") + healthPath,
		Method:     http.MethodGet,
	})
}
