package topology

import (
	"fmt"
	"sort"

	"github.com/ludgerpaehler/ALPACA/lib/block"
	"github.com/ludgerpaehler/ALPACA/lib/dims"
	gerr "github.com/ludgerpaehler/ALPACA/lib/error"
)

// Direction is a face, edge, or corner offset between neighboring nodes.
// Each component is -1, 0, or +1 and at least one is non-zero.
type Direction struct {
	X, Y, Z int
}

// Directions lists all 26 neighbor directions in a fixed order. The order is
// part of the halo-exchange protocol: every process packs and unpacks
// messages by walking this slice, so it must never be reordered.
var Directions = makeDirections()

func makeDirections() []Direction {
	d := make([]Direction, 0, 26)
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				d = append(d, Direction{dx, dy, dz})
			}
		}
	}
	return d
}

// Opposite returns the direction pointing back at the caller.
func (d Direction) Opposite() Direction { return Direction{-d.X, -d.Y, -d.Z} }

func (d Direction) String() string {
	return fmt.Sprintf("(%+d,%+d,%+d)", d.X, d.Y, d.Z)
}

// Node is one resident entry of the forest. A node on a remote process has
// no block attached: topology is replicated on every process, field data is
// not.
type Node struct {
	id  ID
	blk *block.Block
}

// ID returns the node's identity.
func (n *Node) ID() ID { return n.id }

// Block returns the node's field storage, or nil when the node's data lives
// on another process.
func (n *Node) Block() *block.Block { return n.blk }

// SetBlock attaches (or detaches, with nil) field storage to the node.
func (n *Node) SetBlock(b *block.Block) { n.blk = b }

// HasBlock reports whether the node's data is resident on this process.
func (n *Node) HasBlock() bool { return n.blk != nil }

// Tree is the forest of octrees covering the domain: one octree per
// level-zero block. Residency of a node in the arena is the sole marker of
// its existence; there is no separate flag.
type Tree struct {
	nx, ny, nz int     // level-zero blocks per axis
	cellSize0  float64 // edge length of a level-zero cell
	maxLevel   int
	nodes      map[ID]*Node
}

// New builds a forest with one root node per level-zero block. The roots
// carry no field data yet; the simulation attaches blocks to the leaves it
// owns.
func New(nx, ny, nz int, cellSize0 float64, maxLevel int) (*Tree, error) {
	switch {
	case nx <= 0 || ny <= 0 || nz <= 0:
		return nil, fmt.Errorf(
			"level-zero block counts must be positive, got %dx%dx%d", nx, ny, nz)
	case nx > 1<<rootAxisBits || ny > 1<<rootAxisBits || nz > 1<<rootAxisBits:
		return nil, fmt.Errorf(
			"level-zero block counts limited to %d per axis, got %dx%dx%d",
			1<<rootAxisBits, nx, ny, nz)
	case cellSize0 <= 0:
		return nil, fmt.Errorf("level-zero cell size must be positive, got %g", cellSize0)
	case maxLevel < 0 || maxLevel > MaxLevel:
		return nil, fmt.Errorf(
			"maximum level must be in [0, %d], got %d", MaxLevel, maxLevel)
	}

	t := &Tree{
		nx: nx, ny: ny, nz: nz,
		cellSize0: cellSize0,
		maxLevel:  maxLevel,
		nodes:     map[ID]*Node{},
	}
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				id := IDFromIndex(0, x, y, z)
				t.nodes[id] = &Node{id: id}
			}
		}
	}
	return t, nil
}

// MaximumLevel returns the deepest level refinement may reach.
func (t *Tree) MaximumLevel() int { return t.maxLevel }

// RootCounts returns the number of level-zero blocks per axis.
func (t *Tree) RootCounts() (nx, ny, nz int) { return t.nx, t.ny, t.nz }

// CellSizeOnLevel returns the cell edge length on the given level.
func (t *Tree) CellSizeOnLevel(level int) float64 {
	return t.cellSize0 / float64(uint(1)<<uint(level))
}

// NodeOrigin returns the physical coordinates of the node's low corner.
func (t *Tree) NodeOrigin(id ID) (x, y, z float64) {
	blockLen := t.CellSizeOnLevel(id.Level()) * dims.InternalCells
	ix, iy, iz := id.Index()
	return float64(ix) * blockLen, float64(iy) * blockLen, float64(iz) * blockLen
}

// InsideDomain reports whether the index (x, y, z) lies inside the domain on
// the given level.
func (t *Tree) InsideDomain(level, x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 &&
		x < t.nx<<uint(level) && y < t.ny<<uint(level) && z < t.nz<<uint(level)
}

// Exists reports whether a node is resident in the forest.
func (t *Tree) Exists(id ID) bool {
	_, ok := t.nodes[id]
	return ok
}

// Lookup returns a resident node, or nil.
func (t *Tree) Lookup(id ID) *Node { return t.nodes[id] }

// MustNode returns a resident node and fails fast when it is missing.
func (t *Tree) MustNode(id ID) *Node {
	n, ok := t.nodes[id]
	if !ok {
		gerr.Internal("Node %v is not resident in the forest.", id)
	}
	return n
}

// Insert creates a node. Inserting a node that already exists, or a non-root
// node whose parent is missing, is a fatal invariant violation.
func (t *Tree) Insert(id ID) *Node {
	if t.Exists(id) {
		gerr.Internal("Node %v inserted twice.", id)
	}
	if id.Level() > 0 && !t.Exists(id.Parent()) {
		gerr.Internal("Node %v inserted without its parent.", id)
	}
	n := &Node{id: id}
	t.nodes[id] = n
	return n
}

// Remove deletes a node. Removing a missing node, a node that still has
// children, or a root is a fatal invariant violation.
func (t *Tree) Remove(id ID) {
	if !t.Exists(id) {
		gerr.Internal("Node %v removed, but it is not resident.", id)
	}
	if id.Level() == 0 {
		gerr.Internal("Root node %v can never be removed.", id)
	}
	if t.Exists(id.Child(0)) {
		gerr.Internal("Node %v removed while it still has children.", id)
	}
	delete(t.nodes, id)
}

// IsLeaf reports whether a resident node has no children. Children are
// created and removed as full octets, so probing one child is sufficient.
func (t *Tree) IsLeaf(id ID) bool {
	return t.Exists(id) && !t.Exists(id.Child(0))
}

// Leaves returns every leaf of the forest in space-filling-curve order. The
// order is identical on every process for identical topology, which the
// load balancer and the halo protocol both rely on.
func (t *Tree) Leaves() []ID {
	leaves := []ID{}
	for id := range t.nodes {
		if !t.Exists(id.Child(0)) {
			leaves = append(leaves, id)
		}
	}
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].Less(leaves[j]) })
	return leaves
}

// LeafCount returns the number of leaves without sorting them.
func (t *Tree) LeafCount() int {
	n := 0
	for id := range t.nodes {
		if !t.Exists(id.Child(0)) {
			n++
		}
	}
	return n
}

// Relation classifies a leaf's neighbor in one direction.
type Relation int

const (
	// DomainBoundary means there is no neighbor; boundary treatment is an
	// external collaborator's job.
	DomainBoundary Relation = iota
	// SameLevel means the neighbor is a leaf on the same level.
	SameLevel
	// Coarser means the neighbor is a leaf one level up.
	Coarser
	// Finer means the neighbor region is covered by leaves one level down.
	Finer
)

// Neighbor describes what a leaf borders in one direction.
type Neighbor struct {
	Relation Relation
	// Same holds the neighbor ID for SameLevel, Coarser the parent-level
	// neighbor ID for Coarser, and Finer the adjacent child IDs for Finer.
	Same    ID
	Coarser ID
	Finer   []ID
}

// NeighborOf resolves the neighbor of a leaf in one direction by index
// arithmetic. Any state of the forest other than a leaf, a once-coarser
// leaf, once-finer leaves, or the domain boundary is a 2:1 violation and
// fails fast.
func (t *Tree) NeighborOf(id ID, d Direction) Neighbor {
	if !t.IsLeaf(id) {
		gerr.Internal("Neighbor resolution for %v, which is not a leaf.", id)
	}
	level := id.Level()
	x, y, z := id.Index()
	x, y, z = x+d.X, y+d.Y, z+d.Z
	if !t.InsideDomain(level, x, y, z) {
		return Neighbor{Relation: DomainBoundary}
	}

	nID := IDFromIndex(level, x, y, z)
	if t.Exists(nID) {
		if t.IsLeaf(nID) {
			return Neighbor{Relation: SameLevel, Same: nID}
		}
		finer := []ID{}
		for _, c := range nID.Children() {
			if !octantFaces(c.Octant(), d) {
				continue
			}
			if !t.IsLeaf(c) {
				gerr.Internal(
					"2:1 balance violated: %v borders %v across more than one level.",
					id, c)
			}
			finer = append(finer, c)
		}
		return Neighbor{Relation: Finer, Finer: finer}
	}

	if level > 0 {
		p := nID.Parent()
		if t.IsLeaf(p) {
			return Neighbor{Relation: Coarser, Coarser: p}
		}
	}
	gerr.Internal("Forest is inconsistent: no resident neighbor of %v in %v.", id, d)
	return Neighbor{}
}

// octantFaces reports whether a child in the given octant touches the
// boundary its parent shares with a neighbor in direction d, as seen from
// that neighbor.
func octantFaces(octant int, d Direction) bool {
	comp := [3]int{d.X, d.Y, d.Z}
	for a := 0; a < 3; a++ {
		bit := octant >> uint(a) & 1
		switch comp[a] {
		case 1:
			if bit != 0 {
				return false
			}
		case -1:
			if bit != 1 {
				return false
			}
		}
	}
	return true
}

// TwoToOneSatisfied reports whether no two adjacent leaves differ by more
// than one level. It probes by index arithmetic only and never fails fast,
// so the analyzer can use it inside the relaxation fixed point.
func (t *Tree) TwoToOneSatisfied() bool {
	for _, id := range t.Leaves() {
		level := id.Level()
		x, y, z := id.Index()
		for _, d := range Directions {
			nx, ny, nz := x+d.X, y+d.Y, z+d.Z
			if !t.InsideDomain(level, nx, ny, nz) {
				continue
			}
			nID := IDFromIndex(level, nx, ny, nz)
			if t.Exists(nID) {
				if t.IsLeaf(nID) {
					continue
				}
				// Any grandchild leaf across the shared boundary is a breach.
				for _, c := range nID.Children() {
					if octantFaces(c.Octant(), d) && !t.IsLeaf(c) {
						return false
					}
				}
				continue
			}
			if level == 0 || !t.IsLeaf(nID.Parent()) {
				return false
			}
		}
	}
	return true
}
