package mesh

import (
	"bytes"
	"strings"
	"testing"

	"github.com/deadsy/sdfx/sdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestBoxIsClosedAndOutwardFacing(t *testing.T) {
	lo := r3.Vec{X: 1, Y: 2, Z: 3}
	hi := r3.Vec{X: 2, Y: 4, Z: 6}
	m := Box(lo, hi)

	require.Equal(t, 12, m.Len())
	assert.Equal(t, r3.Box{Min: lo, Max: hi}, m.Bounds())

	// Every edge is shared by exactly two faces in opposite directions
	edges := map[[2]int]int{}
	for _, f := range m.Faces {
		for e := 0; e < 3; e++ {
			edges[[2]int{f[e], f[(e+1)%3]}]++
		}
	}
	for e, n := range edges {
		assert.Equal(t, 1, n, "directed edge %v", e)
		assert.Equal(t, 1, edges[[2]int{e[1], e[0]}], "missing reverse of %v", e)
	}

	// Normals point away from the centre
	c := r3.Scale(0.5, r3.Add(lo, hi))
	for _, tri := range m.Triangles() {
		n := r3.Cross(r3.Sub(tri[1], tri[0]), r3.Sub(tri[2], tri[0]))
		centroid := r3.Scale(1.0/3, r3.Add(r3.Add(tri[0], tri[1]), tri[2]))
		assert.Greater(t, r3.Dot(n, r3.Sub(centroid, c)), 0.0)
	}
}

func TestOBJRoundTrip(t *testing.T) {
	m := Box(r3.Vec{}, r3.Vec{X: 1, Y: 1, Z: 1})

	var buf bytes.Buffer
	require.NoError(t, m.WriteOBJ(&buf))

	back, err := ReadOBJ(&buf)
	require.NoError(t, err)
	assert.Equal(t, m.Vertices, back.Vertices)
	assert.Equal(t, m.Faces, back.Faces)
}

func TestReadOBJPolygonsAndSlashes(t *testing.T) {
	src := `# quad with texture indices
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
vn 0 0 1
f 1/1/1 2/2/1 3/3/1 -1/4/1
`
	m, err := ReadOBJ(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, m.Vertices, 4)
	assert.Equal(t, [][3]int{{0, 1, 2}, {0, 2, 3}}, m.Faces)
}

func TestReadOBJErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"short vertex", "v 1 2\n"},
		{"bad number", "v 1 x 3\n"},
		{"index out of range", "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 4\n"},
		{"short face", "v 0 0 0\nf 1 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadOBJ(strings.NewReader(tt.src))
			assert.Error(t, err)
		})
	}
}

func TestFromSDFSphere(t *testing.T) {
	s, err := sdf.Sphere3D(1)
	require.NoError(t, err)

	m := FromSDF(s, 16)
	require.Greater(t, m.Len(), 0)

	for _, v := range m.Vertices {
		assert.InDelta(t, 1.0, r3.Norm(v), 0.1)
	}
}

func TestTransformed(t *testing.T) {
	m := Box(r3.Vec{}, r3.Vec{X: 1, Y: 1, Z: 1})
	out := m.Transformed(0.5, r3.Vec{X: 0.25})

	assert.Equal(t, r3.Box{Min: r3.Vec{X: 0.25}, Max: r3.Vec{X: 0.75, Y: 0.5, Z: 0.5}}, out.Bounds())
	// Source is untouched
	assert.Equal(t, r3.Vec{X: 1, Y: 1, Z: 1}, m.Vertices[6])
}
