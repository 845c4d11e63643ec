/*package topology manages the octree forest that addresses computational
blocks. Parent, child, and neighbor relationships are never stored: they are
computed from a packed integer ID, so refinement and coarsening never have to
patch object references.*/
package topology

import (
	"fmt"
	"math/bits"
)

// ID identifies one node of the forest. The low bits are the Morton
// interleave of the node's (x, y, z) index on its own level, using
// rootAxisBits+level bits per axis; a single head bit above them makes the
// encoding prefix-free, so the level can be recovered from the bit length.
// A child appends its octant as three new low bits, which makes
//
//	Parent(id) == id >> 3
//	Children(id)[o] == id<<3 | o
//
// pure integer arithmetic.
type ID uint64

const (
	// rootAxisBits is the number of Morton bits per axis reserved for the
	// level-zero index, limiting the domain to 128 root blocks per axis.
	rootAxisBits = 7

	// MaxLevel is the deepest level the 64-bit encoding can hold.
	MaxLevel = 13
)

// IDFromIndex packs a level and per-level index into an ID. It does not
// range-check the index against any particular domain; see Tree.InsideDomain.
func IDFromIndex(level int, x, y, z int) ID {
	n := uint(rootAxisBits + level)
	code := interleave3(uint64(x), uint64(y), uint64(z), n)
	return ID(code | 1<<(3*n))
}

// Level returns the refinement level encoded in id.
func (id ID) Level() int {
	return (bits.Len64(uint64(id)) - 1 - 3*rootAxisBits) / 3
}

// Index returns the (x, y, z) index of id on its own level.
func (id ID) Index() (x, y, z int) {
	n := uint(rootAxisBits + id.Level())
	code := uint64(id) &^ (1 << (3 * n))
	ux, uy, uz := deinterleave3(code, n)
	return int(ux), int(uy), int(uz)
}

// Parent returns the ID of the node one level coarser that contains id.
// Calling Parent on a level-zero node is meaningless and unchecked here;
// roots are never coarsened.
func (id ID) Parent() ID { return id >> 3 }

// Child returns the ID of the child in the given octant. Octant bit 0 is the
// x offset, bit 1 the y offset, bit 2 the z offset.
func (id ID) Child(octant int) ID { return id<<3 | ID(octant) }

// Children returns the IDs of all eight children in octant order.
func (id ID) Children() [8]ID {
	var c [8]ID
	for o := 0; o < 8; o++ {
		c[o] = id.Child(o)
	}
	return c
}

// Octant returns which octant of its parent id occupies.
func (id ID) Octant() int { return int(id & 7) }

// Siblings returns the IDs of all eight children of id's parent, id included,
// in octant order.
func (id ID) Siblings() [8]ID { return id.Parent().Children() }

// UniformKey projects id's index onto the finest representable level. Sorting
// leaves by (UniformKey, Level) yields a space-filling-curve order in which a
// coarse block sorts directly before the range its descendants would occupy,
// so sibling groups and spatial neighborhoods stay contiguous.
func (id ID) UniformKey() uint64 {
	n := uint(rootAxisBits + id.Level())
	code := uint64(id) &^ (1 << (3 * n))
	return code << (3 * uint(MaxLevel-id.Level()))
}

// Less orders IDs along the space-filling curve, parents before descendants.
func (id ID) Less(other ID) bool {
	ka, kb := id.UniformKey(), other.UniformKey()
	if ka != kb {
		return ka < kb
	}
	return id.Level() < other.Level()
}

func (id ID) String() string {
	x, y, z := id.Index()
	return fmt.Sprintf("L%d(%d,%d,%d)", id.Level(), x, y, z)
}

// interleave3 builds a Morton code from n bits of each axis. Bit b of x lands
// on bit 3b of the code, y on 3b+1, z on 3b+2.
func interleave3(x, y, z uint64, n uint) uint64 {
	code := uint64(0)
	for b := uint(0); b < n; b++ {
		code |= (x >> b & 1) << (3 * b)
		code |= (y >> b & 1) << (3*b + 1)
		code |= (z >> b & 1) << (3*b + 2)
	}
	return code
}

// deinterleave3 inverts interleave3.
func deinterleave3(code uint64, n uint) (x, y, z uint64) {
	for b := uint(0); b < n; b++ {
		x |= (code >> (3 * b) & 1) << b
		y |= (code >> (3*b + 1) & 1) << b
		z |= (code >> (3*b + 2) & 1) << b
	}
	return x, y, z
}
