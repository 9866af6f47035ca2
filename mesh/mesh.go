// Package mesh holds triangle meshes used to author static geometry and to
// export extracted fluid surfaces.
package mesh

import (
	"github.com/deadsy/sdfx/render"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"gonum.org/v1/gonum/spatial/r3"
)

// Mesh is an indexed triangle mesh. Faces are counter-clockwise seen from
// outside, so normals point out of the enclosed volume.
type Mesh struct {
	Vertices []r3.Vec
	Faces    [][3]int
}

// Len returns the number of triangles.
func (m *Mesh) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Faces)
}

// Triangles returns the vertex positions of every face.
func (m *Mesh) Triangles() [][3]r3.Vec {
	tris := make([][3]r3.Vec, len(m.Faces))
	for i, f := range m.Faces {
		tris[i] = [3]r3.Vec{m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]}
	}
	return tris
}

// Bounds returns the axis-aligned bounding box of the vertices.
func (m *Mesh) Bounds() r3.Box {
	if len(m.Vertices) == 0 {
		return r3.Box{}
	}
	b := r3.Box{Min: m.Vertices[0], Max: m.Vertices[0]}
	for _, v := range m.Vertices[1:] {
		b.Min = r3.Vec{X: min(b.Min.X, v.X), Y: min(b.Min.Y, v.Y), Z: min(b.Min.Z, v.Z)}
		b.Max = r3.Vec{X: max(b.Max.X, v.X), Y: max(b.Max.Y, v.Y), Z: max(b.Max.Z, v.Z)}
	}
	return b
}

// Transformed returns a copy scaled about the origin and then translated.
func (m *Mesh) Transformed(scale float64, offset r3.Vec) *Mesh {
	out := &Mesh{
		Vertices: make([]r3.Vec, len(m.Vertices)),
		Faces:    append([][3]int(nil), m.Faces...),
	}
	for i, v := range m.Vertices {
		out.Vertices[i] = r3.Add(r3.Scale(scale, v), offset)
	}
	return out
}

// Box returns a closed axis-aligned box mesh spanning lo to hi.
func Box(lo, hi r3.Vec) *Mesh {
	v := []r3.Vec{
		{X: lo.X, Y: lo.Y, Z: lo.Z}, // 0
		{X: hi.X, Y: lo.Y, Z: lo.Z}, // 1
		{X: hi.X, Y: hi.Y, Z: lo.Z}, // 2
		{X: lo.X, Y: hi.Y, Z: lo.Z}, // 3
		{X: lo.X, Y: lo.Y, Z: hi.Z}, // 4
		{X: hi.X, Y: lo.Y, Z: hi.Z}, // 5
		{X: hi.X, Y: hi.Y, Z: hi.Z}, // 6
		{X: lo.X, Y: hi.Y, Z: hi.Z}, // 7
	}
	f := [][3]int{
		{0, 2, 1}, {0, 3, 2}, // z = lo
		{4, 5, 6}, {4, 6, 7}, // z = hi
		{0, 1, 5}, {0, 5, 4}, // y = lo
		{3, 7, 6}, {3, 6, 2}, // y = hi
		{0, 4, 7}, {0, 7, 3}, // x = lo
		{1, 2, 6}, {1, 6, 5}, // x = hi
	}
	return &Mesh{Vertices: v, Faces: f}
}

// FromSDF extracts the zero isosurface of s with uniform marching cubes.
// cells is the number of cubes along the longest side of the bounding box.
func FromSDF(s sdf.SDF3, cells int) *Mesh {
	if cells < 1 {
		cells = 1
	}
	tris := render.ToTriangles(s, render.NewMarchingCubesUniform(cells))

	m := &Mesh{}
	index := make(map[v3.Vec]int, len(tris))
	for _, t := range tris {
		var face [3]int
		for j := 0; j < 3; j++ {
			p := t[j]
			id, ok := index[p]
			if !ok {
				id = len(m.Vertices)
				index[p] = id
				m.Vertices = append(m.Vertices, r3.Vec{X: p.X, Y: p.Y, Z: p.Z})
			}
			face[j] = id
		}
		// Marching cubes can emit slivers whose corners snap together
		if face[0] == face[1] || face[1] == face[2] || face[0] == face[2] {
			continue
		}
		m.Faces = append(m.Faces, face)
	}
	return m
}

// SaveSTL extracts the zero isosurface of s and writes it as binary STL.
// A nil s writes a file with no triangles.
func SaveSTL(path string, s sdf.SDF3, cells int) error {
	if s == nil {
		return render.SaveSTL(path, nil)
	}
	if cells < 1 {
		cells = 1
	}
	tris := render.ToTriangles(s, render.NewMarchingCubesUniform(cells))
	return render.SaveSTL(path, tris)
}
