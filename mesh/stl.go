package mesh

import (
	"fmt"
	"io"
)

// WriteSTL 写 ASCII STL，每个面一个 facet，法向量由顶点叉积得到
func WriteSTL(w io.Writer, m *Mesh) error {
	if _, err := fmt.Fprintln(w, "solid img2mesh"); err != nil {
		return err
	}
	for i := range m.Faces {
		if err := writeFacet(w, m, i); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "endsolid img2mesh")
	return err
}

// 写入 STL 面
func writeFacet(w io.Writer, m *Mesh, i int) error {
	f := m.Faces[i]
	n := m.FaceNormal(i)
	v1, v2, v3 := m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]

	_, err := fmt.Fprintf(w, "  facet normal %f %f %f\n"+
		"    outer loop\n"+
		"      vertex %f %f %f\n"+
		"      vertex %f %f %f\n"+
		"      vertex %f %f %f\n"+
		"    endloop\n"+
		"  endfacet\n",
		n.X, n.Y, n.Z,
		v1.X, v1.Y, v1.Z,
		v2.X, v2.Y, v2.Z,
		v3.X, v3.Y, v3.Z)
	return err
}
