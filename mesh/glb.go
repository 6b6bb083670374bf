package mesh

import (
	"io"
	"math"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

// WriteGLB 写 glTF 2.0 二进制：单 mesh 单 primitive，POSITION + 可选 COLOR_0 + 索引
func WriteGLB(w io.Writer, m *Mesh) error {
	doc := buildDocument(m)
	enc := gltf.NewEncoder(w)
	enc.AsBinary = true
	return enc.Encode(doc)
}

func buildDocument(m *Mesh) *gltf.Document {
	doc := gltf.NewDocument()

	positions := make([][3]float32, len(m.Vertices))
	for i, v := range m.Vertices {
		positions[i] = [3]float32{float32(v.X), float32(v.Y), float32(v.Z)}
	}
	indices := make([]uint32, 0, len(m.Faces)*3)
	for _, f := range m.Faces {
		indices = append(indices, uint32(f[0]), uint32(f[1]), uint32(f[2]))
	}

	attrs := gltf.PrimitiveAttributes{
		gltf.POSITION: modeler.WritePosition(doc, positions),
	}
	if m.HasColors() {
		colors := make([][3]uint8, len(m.Colors))
		for i, c := range m.Colors {
			colors[i] = [3]uint8{toByte(c[0]), toByte(c[1]), toByte(c[2])}
		}
		attrs[gltf.COLOR_0] = modeler.WriteColor(doc, colors)
	}

	doc.Meshes = []*gltf.Mesh{{
		Name: "model",
		Primitives: []*gltf.Primitive{{
			Indices:    gltf.Index(modeler.WriteIndices(doc, indices)),
			Attributes: attrs,
		}},
	}}
	doc.Nodes = []*gltf.Node{{Name: "root", Mesh: gltf.Index(0)}}
	doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, 0)
	return doc
}

func toByte(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
}
