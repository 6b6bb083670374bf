// Package model 是重建模型的客户端边界：模型本身运行在推理后端进程里，
// 这里只负责加载、推理、提取网格三个调用以及设备选择。
package model

import (
	"context"
	"errors"
	"image"

	"github.com/chaos-io/img2mesh/mesh"
)

var (
	// ErrModelUnavailable 模型实现找不到或加载失败，之后的调用全部直接失败
	ErrModelUnavailable = errors.New("reconstruction model unavailable")

	// ErrModelNotLoaded 模型还没有成功加载就发起了生成
	ErrModelNotLoaded = errors.New("reconstruction model not loaded")

	// ErrInferenceFailure 推理或网格提取时的运行时错误
	ErrInferenceFailure = errors.New("inference failure")
)

const (
	// ChunkSize 网格提取的分块大小，平衡速度和显存，不对外暴露
	ChunkSize = 8192

	DeviceAuto = "auto"
	DeviceCPU  = "cpu"
)

// SceneEncoding 后端返回的不透明场景编码句柄，只在一次生成内有效
type SceneEncoding struct {
	ID string
}

// Reconstructor 已加载的重建模型
type Reconstructor interface {
	Infer(ctx context.Context, img image.Image) (SceneEncoding, error)
	ExtractMesh(ctx context.Context, enc SceneEncoding, resolution int) (*mesh.Mesh, error)
	Device() string
}
