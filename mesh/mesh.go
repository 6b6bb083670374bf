package mesh

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

var ErrDegenerate = errors.New("degenerate mesh")

// Mesh 三角网格：顶点、面（顶点索引）、可选的逐顶点颜色（0~1）
type Mesh struct {
	Vertices []r3.Vector
	Faces    [][3]int
	Colors   [][3]float64
}

func (m *Mesh) HasColors() bool {
	return len(m.Colors) > 0 && len(m.Colors) == len(m.Vertices)
}

// Validate 至少一个顶点、一个面，面索引不越界
func (m *Mesh) Validate() error {
	if m == nil || len(m.Vertices) == 0 || len(m.Faces) == 0 {
		return ErrDegenerate
	}
	if len(m.Colors) > 0 && len(m.Colors) != len(m.Vertices) {
		return fmt.Errorf("%w: %d colors for %d vertices", ErrDegenerate, len(m.Colors), len(m.Vertices))
	}
	n := len(m.Vertices)
	for i, f := range m.Faces {
		for _, idx := range f {
			if idx < 0 || idx >= n {
				return fmt.Errorf("%w: face %d references vertex %d", ErrDegenerate, i, idx)
			}
		}
	}
	return nil
}

// Bounds 包围盒
func (m *Mesh) Bounds() (lo, hi r3.Vector) {
	if len(m.Vertices) == 0 {
		return
	}
	lo, hi = m.Vertices[0], m.Vertices[0]
	for _, v := range m.Vertices[1:] {
		lo = r3.Vector{X: math.Min(lo.X, v.X), Y: math.Min(lo.Y, v.Y), Z: math.Min(lo.Z, v.Z)}
		hi = r3.Vector{X: math.Max(hi.X, v.X), Y: math.Max(hi.Y, v.Y), Z: math.Max(hi.Z, v.Z)}
	}
	return
}

// FaceNormal 单位法向量，退化三角形返回零向量
func (m *Mesh) FaceNormal(i int) r3.Vector {
	f := m.Faces[i]
	v1, v2, v3 := m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]
	n := v2.Sub(v1).Cross(v3.Sub(v1))
	if n.Norm() == 0 {
		return r3.Vector{}
	}
	return n.Normalize()
}
