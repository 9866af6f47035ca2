package levelset

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/flip/grid"
	"github.com/pthm-cable/flip/mesh"
)

// Volume file layout, all little-endian:
//
//	magic "FLVS", version uint32
//	dims 3×int32, scale float64, background float32, flags uint32, leaves uint32
//	per leaf: origin 3×int32, mask 8×uint64, active values float32 in offset
//	order, then active velocities 3×float32 when flagVelocity is set
const (
	volumeMagic   = "FLVS"
	volumeVersion = 1
	flagVelocity  = 1 << 0
)

// ErrBadVolume is returned when reading a malformed volume file.
var ErrBadVolume = errors.New("malformed volume file")

type volumeHeader struct {
	Magic      [4]byte
	Version    uint32
	Dims       [3]int32
	Scale      float64
	Background float32
	Flags      uint32
	Leaves     uint32
}

type leafHeader struct {
	Origin [3]int32
	Mask   [8]uint64
}

// WriteVolume serializes the sparse volume. Leaves are written in z-major
// order so identical volumes produce identical files.
func (ls *LevelSet) WriteVolume(w io.Writer) error {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	bw := bufio.NewWriter(w)
	hdr := volumeHeader{
		Version:    volumeVersion,
		Dims:       [3]int32{int32(ls.dims.X), int32(ls.dims.Y), int32(ls.dims.Z)},
		Scale:      ls.scale,
		Background: ls.background,
		Leaves:     uint32(len(ls.leaves)),
	}
	copy(hdr.Magic[:], volumeMagic)
	if ls.hasVel {
		hdr.Flags |= flagVelocity
	}
	if err := binary.Write(bw, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("writing volume header: %w", err)
	}

	origins := make([]Coord, 0, len(ls.leaves))
	for origin := range ls.leaves {
		origins = append(origins, origin)
	}
	slices.SortFunc(origins, func(a, b Coord) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})

	values := make([]float32, 0, LeafSize)
	vels := make([][3]float32, 0, LeafSize)
	for _, origin := range origins {
		l := ls.leaves[origin]
		lh := leafHeader{Origin: [3]int32{origin.X, origin.Y, origin.Z}, Mask: l.mask}
		if err := binary.Write(bw, binary.LittleEndian, &lh); err != nil {
			return fmt.Errorf("writing leaf %v: %w", origin, err)
		}

		values, vels = values[:0], vels[:0]
		for off := 0; off < LeafSize; off++ {
			if !l.mask.GetBit(off) {
				continue
			}
			values = append(values, l.values[off])
			if l.vel != nil {
				vels = append(vels, l.vel[off])
			} else {
				vels = append(vels, [3]float32{})
			}
		}
		if err := binary.Write(bw, binary.LittleEndian, values); err != nil {
			return fmt.Errorf("writing leaf %v: %w", origin, err)
		}
		if ls.hasVel {
			if err := binary.Write(bw, binary.LittleEndian, vels); err != nil {
				return fmt.Errorf("writing leaf %v: %w", origin, err)
			}
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing volume: %w", err)
	}
	return nil
}

// ReadVolume parses a volume written by WriteVolume.
func ReadVolume(r io.Reader) (*LevelSet, error) {
	br := bufio.NewReader(r)

	var hdr volumeHeader
	if err := binary.Read(br, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("reading volume header: %w", err)
	}
	if string(hdr.Magic[:]) != volumeMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrBadVolume, hdr.Magic[:])
	}
	if hdr.Version != volumeVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadVolume, hdr.Version)
	}
	dims := grid.NewDims([3]int{int(hdr.Dims[0]), int(hdr.Dims[1]), int(hdr.Dims[2])})
	if !dims.Valid() {
		return nil, fmt.Errorf("%w: dims %v", ErrBadVolume, dims)
	}

	ls := New(dims, hdr.Scale, float64(hdr.Background))
	ls.hasVel = hdr.Flags&flagVelocity != 0

	for n := uint32(0); n < hdr.Leaves; n++ {
		var lh leafHeader
		if err := binary.Read(br, binary.LittleEndian, &lh); err != nil {
			return nil, fmt.Errorf("reading leaf %d: %w", n, err)
		}
		origin := Coord{lh.Origin[0], lh.Origin[1], lh.Origin[2]}
		if origin != leafOrigin(int(origin.X), int(origin.Y), int(origin.Z)) {
			return nil, fmt.Errorf("%w: unaligned leaf origin %v", ErrBadVolume, origin)
		}

		l := &leaf{mask: Mask512(lh.Mask)}
		values := make([]float32, l.mask.CountOn())
		if err := binary.Read(br, binary.LittleEndian, values); err != nil {
			return nil, fmt.Errorf("reading leaf %v: %w", origin, err)
		}
		var vels [][3]float32
		if ls.hasVel {
			vels = make([][3]float32, len(values))
			if err := binary.Read(br, binary.LittleEndian, vels); err != nil {
				return nil, fmt.Errorf("reading leaf %v: %w", origin, err)
			}
			l.vel = new([LeafSize][3]float32)
		}

		at := 0
		for off := 0; off < LeafSize; off++ {
			if !l.mask.GetBit(off) {
				continue
			}
			l.values[off] = values[at]
			if vels != nil {
				l.vel[off] = vels[at]
			}
			at++
		}
		ls.leaves[origin] = l
	}
	return ls, nil
}

// SaveVolume writes the volume to path.
func (ls *LevelSet) SaveVolume(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := ls.WriteVolume(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadVolume reads a volume file.
func LoadVolume(path string) (*LevelSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return ReadVolume(f)
}

// Mesh extracts the zero isosurface in normalized coordinates with marching
// cubes, cells cubes along the longest axis. A field without a surface yields
// an empty mesh and ErrDegenerateSurface.
func (ls *LevelSet) Mesh(cells int) (*mesh.Mesh, error) {
	if !ls.HasSurface() {
		return &mesh.Mesh{}, ErrDegenerateSurface
	}
	return mesh.FromSDF(ls, cells), nil
}

// WriteMesh writes the zero isosurface to path. The format follows the
// extension: ".stl" writes binary STL, anything else Wavefront OBJ.
// A field without a surface still writes an empty file and reports
// ErrDegenerateSurface.
func (ls *LevelSet) WriteMesh(path string, cells int) error {
	degenerate := !ls.HasSurface()

	var err error
	if strings.EqualFold(filepath.Ext(path), ".stl") {
		var s sdf.SDF3
		if !degenerate {
			s = ls
		}
		err = mesh.SaveSTL(path, s, cells)
	} else {
		m := &mesh.Mesh{}
		if !degenerate {
			m = mesh.FromSDF(ls, cells)
		}
		err = m.SaveOBJ(path)
	}
	if err != nil {
		return fmt.Errorf("writing mesh %s: %w", path, err)
	}
	if degenerate {
		return ErrDegenerateSurface
	}
	return nil
}

// Evaluate returns the signed distance at a normalized position, in
// normalized units. Together with BoundingBox it makes the volume an
// sdf.SDF3 for the sdfx renderers.
func (ls *LevelSet) Evaluate(p v3.Vec) float64 {
	return ls.Sample(ls.ToIndex(r3Vec(p))) / ls.scale
}

// BoundingBox returns the normalized extent of the volume.
func (ls *LevelSet) BoundingBox() sdf.Box3 {
	e := ls.dims.Extent()
	return sdf.Box3{Min: v3.Vec{}, Max: v3.Vec{X: e.X, Y: e.Y, Z: e.Z}}
}

func r3Vec(p v3.Vec) r3.Vec { return r3.Vec{X: p.X, Y: p.Y, Z: p.Z} }
