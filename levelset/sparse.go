package levelset

import "math/bits"

// Leaf layout: 8x8x8 voxels, x fastest.
const (
	LeafLog2Dim = 3
	LeafDim     = 1 << LeafLog2Dim
	LeafSize    = LeafDim * LeafDim * LeafDim
)

// Coord is an integer voxel coordinate.
type Coord struct {
	X, Y, Z int32
}

// Less orders coordinates z-major, for deterministic serialization.
func (c Coord) Less(o Coord) bool {
	if c.Z != o.Z {
		return c.Z < o.Z
	}
	if c.Y != o.Y {
		return c.Y < o.Y
	}
	return c.X < o.X
}

// Mask512 represents a bitmask for the 512 voxels of a leaf.
type Mask512 [8]uint64

// SetBit sets the bit at position i.
func (m *Mask512) SetBit(i int) {
	m[i>>6] |= 1 << (i & 63)
}

// GetBit returns true if bit at position i is set.
func (m *Mask512) GetBit(i int) bool {
	return m[i>>6]&(1<<(i&63)) != 0
}

// CountOn returns the number of set bits.
func (m *Mask512) CountOn() int {
	n := 0
	for _, w := range m {
		n += bits.OnesCount64(w)
	}
	return n
}

// leaf holds one 8³ block of voxel values. Inactive voxels read as the
// volume's background.
type leaf struct {
	mask   Mask512
	values [LeafSize]float32
	vel    *[LeafSize][3]float32 // nil unless the volume carries velocities
}

func (l *leaf) clone() *leaf {
	c := &leaf{mask: l.mask, values: l.values}
	if l.vel != nil {
		v := *l.vel
		c.vel = &v
	}
	return c
}

// leafOrigin returns the origin coordinate of the leaf containing the voxel.
func leafOrigin(x, y, z int) Coord {
	const mask = ^(LeafDim - 1)
	return Coord{int32(x & mask), int32(y & mask), int32(z & mask)}
}

// leafOffset converts a voxel coordinate to its linear offset within its leaf.
func leafOffset(x, y, z int) int {
	const m = LeafDim - 1
	return (z&m)<<(2*LeafLog2Dim) | (y&m)<<LeafLog2Dim | x&m
}

// offsetCoord is the inverse of leafOffset relative to a leaf origin.
func offsetCoord(origin Coord, off int) (x, y, z int) {
	const m = LeafDim - 1
	return int(origin.X) + off&m, int(origin.Y) + (off>>LeafLog2Dim)&m, int(origin.Z) + off>>(2*LeafLog2Dim)
}
