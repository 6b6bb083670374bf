package mesh

import (
	"math"

	"github.com/golang/geo/r3"
)

// ToCanonicalOrientation 把重建坐标系转到查看器使用的朝向：
// 先绕 X 轴 -90°，再绕 Y 轴 +90°。原网格不变，返回新网格。
func ToCanonicalOrientation(m *Mesh) *Mesh {
	out := &Mesh{
		Vertices: make([]r3.Vector, len(m.Vertices)),
		Faces:    append([][3]int(nil), m.Faces...),
		Colors:   append([][3]float64(nil), m.Colors...),
	}
	for i, v := range m.Vertices {
		out.Vertices[i] = rotateY(rotateX(v, -math.Pi/2), math.Pi/2)
	}
	return out
}

func rotateX(v r3.Vector, angle float64) r3.Vector {
	s, c := math.Sincos(angle)
	return r3.Vector{X: v.X, Y: c*v.Y - s*v.Z, Z: s*v.Y + c*v.Z}
}

func rotateY(v r3.Vector, angle float64) r3.Vector {
	s, c := math.Sincos(angle)
	return r3.Vector{X: c*v.X + s*v.Z, Y: v.Y, Z: -s*v.X + c*v.Z}
}
