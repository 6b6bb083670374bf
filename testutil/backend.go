// Package testutil 提供测试用的假推理后端（重建模型 + 抠图），基于 httptest。
package testutil

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
)

// ReconstructionBackend 假的重建后端，记录每个接口的调用次数
type ReconstructionBackend struct {
	*httptest.Server

	Accelerators []string
	FailLoad     bool
	FailInfer    bool
	// Vertices/Faces 为空时返回一个四面体
	Vertices [][3]float64
	Faces    [][3]int

	LoadCalls    atomic.Int32
	InferCalls   atomic.Int32
	ExtractCalls atomic.Int32

	mu             sync.Mutex
	LastDevice     string
	LastResolution int
	LastChunk      int
}

func NewReconstructionBackend() *ReconstructionBackend {
	b := &ReconstructionBackend{}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/v1/devices", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string][]string{"accelerators": b.Accelerators})
	})
	mux.HandleFunc("/v1/models/load", b.handleLoad)
	mux.HandleFunc("/v1/infer", b.handleInfer)
	mux.HandleFunc("/v1/extract_mesh", b.handleExtract)
	b.Server = httptest.NewServer(mux)
	return b
}

func (b *ReconstructionBackend) handleLoad(w http.ResponseWriter, r *http.Request) {
	b.LoadCalls.Add(1)
	if b.FailLoad {
		http.Error(w, "tsr module not installed", http.StatusInternalServerError)
		return
	}
	var req struct {
		Device    string `json:"device"`
		ChunkSize int    `json:"chunk_size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	b.LastDevice = req.Device
	b.LastChunk = req.ChunkSize
	b.mu.Unlock()
	writeJSON(w, map[string]string{"model_id": "tsr-1"})
}

func (b *ReconstructionBackend) handleInfer(w http.ResponseWriter, r *http.Request) {
	n := b.InferCalls.Add(1)
	if b.FailInfer {
		http.Error(w, "CUDA out of memory", http.StatusInternalServerError)
		return
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer func() {
		_ = file.Close()
	}()
	if _, err := png.Decode(file); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]string{"encoding_id": fmt.Sprintf("scene-%d", n)})
}

func (b *ReconstructionBackend) handleExtract(w http.ResponseWriter, r *http.Request) {
	b.ExtractCalls.Add(1)
	var req struct {
		EncodingID string `json:"encoding_id"`
		Resolution int    `json:"resolution"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EncodingID == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	b.LastResolution = req.Resolution
	b.mu.Unlock()

	verts, faces := b.Vertices, b.Faces
	if len(verts) == 0 {
		verts = [][3]float64{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
		faces = [][3]int{{0, 2, 1}, {0, 1, 3}, {0, 3, 2}, {1, 2, 3}}
	}
	colors := make([][3]float64, len(verts))
	for i := range colors {
		colors[i] = [3]float64{0.8, 0.4, 0.2}
	}
	writeJSON(w, map[string]any{
		"vertices":      verts,
		"faces":         faces,
		"vertex_colors": colors,
	})
}

// RembgBackend 假的抠图后端：接近白色的像素视为背景，置为全透明
type RembgBackend struct {
	*httptest.Server

	RemoveCalls atomic.Int32
}

func NewRembgBackend() *RembgBackend {
	b := &RembgBackend{}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/api/remove", func(w http.ResponseWriter, r *http.Request) {
		b.RemoveCalls.Add(1)
		file, _, err := r.FormFile("image")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer func() {
			_ = file.Close()
		}()
		img, _, err := image.Decode(file)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_ = png.Encode(w, whiteToTransparent(img))
	})
	b.Server = httptest.NewServer(mux)
	return b
}

func whiteToTransparent(img image.Image) *image.NRGBA {
	bounds := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if c.R > 240 && c.G > 240 && c.B > 240 {
				c = color.NRGBA{}
			} else {
				c.A = 255
			}
			out.SetNRGBA(x-bounds.Min.X, y-bounds.Min.Y, c)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// ObjectOnWhite 白底上画一个实心矩形主体，模拟白底商品照
func ObjectOnWhite(size int, obj image.Rectangle, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if (image.Point{X: x, Y: y}).In(obj) {
				img.SetNRGBA(x, y, c)
			} else {
				img.SetNRGBA(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
			}
		}
	}
	return img
}

// LastRequest 最近一次 load / extract 请求里的参数
func (b *ReconstructionBackend) LastRequest() (device string, resolution, chunkSize int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.LastDevice, b.LastResolution, b.LastChunk
}
