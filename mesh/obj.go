package mesh

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
)

// WriteOBJ 写 Wavefront OBJ，有顶点色时写成 "v x y z r g b"，面索引从 1 开始
func WriteOBJ(w io.Writer, m *Mesh) error {
	withColor := m.HasColors()
	for i, v := range m.Vertices {
		var err error
		if withColor {
			c := m.Colors[i]
			_, err = fmt.Fprintf(w, "v %f %f %f %f %f %f\n", v.X, v.Y, v.Z, c[0], c[1], c[2])
		} else {
			_, err = fmt.Fprintf(w, "v %f %f %f\n", v.X, v.Y, v.Z)
		}
		if err != nil {
			return err
		}
	}
	for _, f := range m.Faces {
		if _, err := fmt.Fprintf(w, "f %d %d %d\n", f[0]+1, f[1]+1, f[2]+1); err != nil {
			return err
		}
	}
	return nil
}

// ReadOBJ 读取 OBJ 的顶点和面（只取位置索引，多边形按扇形三角化），忽略其它语句
func ReadOBJ(r io.Reader) (*Mesh, error) {
	m := &Mesh{}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "v":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: vertex needs 3 coordinates", line)
			}
			xyz, err := parseFloats(fields[1:4])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			m.Vertices = append(m.Vertices, r3.Vector{X: xyz[0], Y: xyz[1], Z: xyz[2]})
			if len(fields) >= 7 {
				rgb, err := parseFloats(fields[4:7])
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				m.Colors = append(m.Colors, [3]float64{rgb[0], rgb[1], rgb[2]})
			}
		case "f":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: face needs 3 vertices", line)
			}
			idx := make([]int, 0, len(fields)-1)
			for _, tok := range fields[1:] {
				// "1/2/3" 只取位置索引
				n, err := strconv.Atoi(strings.SplitN(tok, "/", 2)[0])
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				if n < 0 {
					n = len(m.Vertices) + n + 1
				}
				idx = append(idx, n-1)
			}
			for i := 1; i+1 < len(idx); i++ {
				m.Faces = append(m.Faces, [3]int{idx[0], idx[i], idx[i+1]})
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(m.Colors) != len(m.Vertices) {
		m.Colors = nil
	}
	return m, nil
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, s := range fields {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
