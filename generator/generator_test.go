package generator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/qmuntal/gltf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chaos-io/img2mesh/mesh"
	"github.com/chaos-io/img2mesh/model"
)

type fakeModel struct {
	inferCalls   int
	extractCalls int
	inferErr     error
	mesh         *mesh.Mesh
}

func (f *fakeModel) Infer(context.Context, image.Image) (model.SceneEncoding, error) {
	f.inferCalls++
	if f.inferErr != nil {
		return model.SceneEncoding{}, f.inferErr
	}
	return model.SceneEncoding{ID: "scene"}, nil
}

func (f *fakeModel) ExtractMesh(_ context.Context, _ model.SceneEncoding, _ int) (*mesh.Mesh, error) {
	f.extractCalls++
	return f.mesh, nil
}

func (f *fakeModel) Device() string { return model.DeviceCPU }

type fakeSource struct {
	m   model.Reconstructor
	err error
}

func (s fakeSource) Current() (model.Reconstructor, error) { return s.m, s.err }

func triangle() *mesh.Mesh {
	return &mesh.Mesh{
		Vertices: []r3.Vector{{X: 1}, {Y: 1}, {Z: 1}},
		Faces:    [][3]int{{0, 1, 2}},
		Colors:   [][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
	}
}

var fixedTime = time.Date(2026, 10, 18, 9, 30, 5, 0, time.Local)

func newTestGenerator(t *testing.T, m model.Reconstructor) (*Generator, string) {
	dir := filepath.Join(t.TempDir(), "output")
	g := New(fakeSource{m: m}, dir, zap.NewNop()).WithClock(func() time.Time { return fixedTime })
	return g, dir
}

func TestGenerate_Formats(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		formats []mesh.Format
	}{
		{name: "obj", formats: []mesh.Format{mesh.FormatOBJ}},
		{name: "glb", formats: []mesh.Format{mesh.FormatGLB}},
		{name: "obj+glb", formats: []mesh.Format{mesh.FormatOBJ, mesh.FormatGLB}},
		{name: "glb+obj keeps order", formats: []mesh.Format{mesh.FormatGLB, mesh.FormatOBJ}},
		{name: "all", formats: []mesh.Format{mesh.FormatSTL, mesh.FormatOBJ, mesh.FormatGLB}},
	}
	nameRe := regexp.MustCompile(`^model_(\d{8}_\d{6})\.([a-z]+)$`)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			g, dir := newTestGenerator(t, &fakeModel{mesh: triangle()})
			paths, err := g.Generate(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 4)), 256, tt.formats)
			require.NoError(t, err)
			require.Len(t, paths, len(tt.formats))

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Len(t, entries, len(tt.formats))

			var stamp string
			for i, p := range paths {
				match := nameRe.FindStringSubmatch(filepath.Base(p))
				require.NotNil(t, match, p)
				if stamp == "" {
					stamp = match[1]
				}
				assert.Equal(t, stamp, match[1], "all files share one timestamp")
				assert.Equal(t, string(tt.formats[i]), match[2])

				info, err := os.Stat(p)
				require.NoError(t, err)
				assert.Positive(t, info.Size())
			}
			assert.Equal(t, "20261018_093005", stamp)
		})
	}
}

func TestGenerate_OutputsParseable(t *testing.T) {
	t.Parallel()

	g, _ := newTestGenerator(t, &fakeModel{mesh: triangle()})
	paths, err := g.Generate(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 4)), 64, mesh.DefaultFormats)
	require.NoError(t, err)

	f, err := os.Open(paths[0])
	require.NoError(t, err)
	defer func() {
		_ = f.Close()
	}()
	got, err := mesh.ReadOBJ(f)
	require.NoError(t, err)
	require.NoError(t, got.Validate())

	// (x, y, z) -> (-y, z, -x)
	assert.InDelta(t, -1, got.Vertices[0].Z, 1e-6)
	assert.InDelta(t, -1, got.Vertices[1].X, 1e-6)
	assert.InDelta(t, 1, got.Vertices[2].Y, 1e-6)

	doc, err := gltf.Open(paths[1])
	require.NoError(t, err)
	require.Len(t, doc.Meshes, 1)
	prim := doc.Meshes[0].Primitives[0]
	assert.Equal(t, 3, int(doc.Accessors[prim.Attributes[gltf.POSITION]].Count))
}

func TestGenerate_SameSecondCollision(t *testing.T) {
	t.Parallel()

	g, dir := newTestGenerator(t, &fakeModel{mesh: triangle()})
	first, err := g.Generate(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 4)), 64, mesh.DefaultFormats)
	require.NoError(t, err)
	before, err := os.ReadFile(first[0])
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 4)), 128, mesh.DefaultFormats)
	assert.ErrorIs(t, err, mesh.ErrOutputExists)
	assert.ErrorIs(t, err, mesh.ErrExportFailure)

	after, err := os.ReadFile(first[0])
	require.NoError(t, err)
	assert.Equal(t, before, after, "earlier output must not be overwritten")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestGenerate_ModelNotLoaded(t *testing.T) {
	t.Parallel()

	for _, sourceErr := range []error{model.ErrModelNotLoaded, fmt.Errorf("%w: boom", model.ErrModelUnavailable)} {
		dir := filepath.Join(t.TempDir(), "output")
		g := New(fakeSource{err: sourceErr}, dir, zap.NewNop())

		_, err := g.Generate(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 4)), 256, mesh.DefaultFormats)
		assert.ErrorIs(t, err, sourceErr)
		_, statErr := os.Stat(dir)
		assert.True(t, os.IsNotExist(statErr), "nothing written")
	}
}

func TestGenerate_InferenceFailure(t *testing.T) {
	t.Parallel()

	fm := &fakeModel{inferErr: errors.New("CUDA out of memory")}
	g, _ := newTestGenerator(t, fm)
	_, err := g.Generate(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 4)), 256, mesh.DefaultFormats)
	assert.ErrorIs(t, err, model.ErrInferenceFailure)
	assert.Contains(t, err.Error(), "CUDA out of memory")
	assert.Equal(t, 0, fm.extractCalls)

	degenerate := &fakeModel{mesh: &mesh.Mesh{}}
	g, _ = newTestGenerator(t, degenerate)
	_, err = g.Generate(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 4)), 256, mesh.DefaultFormats)
	assert.ErrorIs(t, err, model.ErrInferenceFailure)
	assert.ErrorIs(t, err, mesh.ErrDegenerate)
}

func TestGenerate_InvalidArguments(t *testing.T) {
	t.Parallel()

	fm := &fakeModel{mesh: triangle()}
	g, _ := newTestGenerator(t, fm)
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))

	for _, res := range []int{0, 63, 513} {
		_, err := g.Generate(context.Background(), img, res, mesh.DefaultFormats)
		assert.ErrorIs(t, err, ErrInvalidResolution)
	}
	for _, formats := range [][]mesh.Format{nil, {"ply"}, {mesh.FormatOBJ, mesh.FormatOBJ}} {
		_, err := g.Generate(context.Background(), img, 256, formats)
		assert.ErrorIs(t, err, ErrInvalidFormats)
	}
	assert.Equal(t, 0, fm.inferCalls)
}

func TestGenerate_ExportFailure(t *testing.T) {
	t.Parallel()

	// 输出目录路径被一个普通文件占用
	dir := filepath.Join(t.TempDir(), "output")
	require.NoError(t, os.WriteFile(dir, []byte("not a dir"), 0644))

	g := New(fakeSource{m: &fakeModel{mesh: triangle()}}, dir, zap.NewNop())
	_, err := g.Generate(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 4)), 256, mesh.DefaultFormats)
	assert.ErrorIs(t, err, mesh.ErrExportFailure)
	assert.False(t, strings.Contains(err.Error(), "inference"))
}
