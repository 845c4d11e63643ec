/*package mutator applies refinement decisions to the forest: splitting
leaves into predicted children and collapsing sibling octets into restricted
parents. The mutator changes topology on every process identically; field
data is only touched where it is resident.*/
package mutator

import (
	"github.com/ludgerpaehler/ALPACA/lib/block"
	gerr "github.com/ludgerpaehler/ALPACA/lib/error"
	"github.com/ludgerpaehler/ALPACA/lib/multiresolution"
	"github.com/ludgerpaehler/ALPACA/lib/topology"
)

// Changes reports what one refinement cycle did to the forest. Refined lists
// the former leaves that were split, Coarsened the parents whose children
// were collapsed. The outer simulation loop consumes this to decide whether
// re-partitioning is needed.
type Changes struct {
	Refined   []topology.ID
	Coarsened []topology.ID
}

// Empty reports whether the cycle changed no topology.
func (c Changes) Empty() bool { return len(c.Refined) == 0 && len(c.Coarsened) == 0 }

// Assembler produces the field data of a parent block during coarsening.
// When the octet's data is spread over several processes, the simulation
// layer implements this by gathering restricted octant contributions; for
// single-process forests LocalAssembler is enough.
type Assembler interface {
	// AssembleParent returns the restricted parent block for the given
	// coarsen group, or nil when this process does not own the new parent.
	AssembleParent(t *topology.Tree, parent topology.ID) *block.Block
}

// LocalAssembler restricts a parent block directly from resident children.
type LocalAssembler struct{}

// AssembleParent builds the parent's buffers from the volume-weighted
// average of all eight resident children.
func (LocalAssembler) AssembleParent(t *topology.Tree, parent topology.ID) *block.Block {
	blk := block.New()
	scratch := make([]float64, multiresolution.OctantCellCount)
	for _, c := range parent.Children() {
		child := t.MustNode(c)
		if !child.HasBlock() {
			gerr.Internal("Local coarsening of %v, but child %v has no resident data.",
				parent, c)
		}
		restrictInto(child.Block(), blk, c.Octant(), scratch)
	}
	return blk
}

// restrictInto restricts every active buffer of one child into the matching
// octant region of the parent block.
func restrictInto(child, parent *block.Block, octant int, scratch []float64) {
	childBufs := []block.Buffer{}
	child.ActiveBuffers(func(b block.Buffer) { childBufs = append(childBufs, b) })
	i := 0
	parent.ActiveBuffers(func(b block.Buffer) {
		multiresolution.RestrictOctant(childBufs[i], scratch)
		multiresolution.InstallOctant(b, octant, scratch)
		i++
	})
}

// Refine splits a leaf into its eight children. Children inherit data by
// prediction when the parent's data is resident; the parent's own data is
// discarded, since restriction can always rebuild it from the children. The
// parent stays in the forest as an internal node.
func Refine(t *topology.Tree, id topology.ID) {
	if !t.IsLeaf(id) {
		gerr.Internal("Refine called on %v, which is not a leaf.", id)
	}
	if id.Level() >= t.MaximumLevel() {
		gerr.Internal("Refine would push %v past the maximum level %d.",
			id, t.MaximumLevel())
	}
	parent := t.MustNode(id)
	for _, c := range id.Children() {
		n := t.Insert(c)
		if parent.HasBlock() {
			child := block.New()
			multiresolution.PredictBlock(parent.Block(), child, c.Octant())
			n.SetBlock(child)
		}
	}
	parent.SetBlock(nil)
}

// CoarsenGroup collapses a complete sibling octet into its parent, whose
// buffers are produced by the assembler. A partial octet is a logic error:
// the analyzer's relaxation pass is the only caller-side path that
// guarantees completeness, and anything else fails fast.
func CoarsenGroup(t *topology.Tree, parent topology.ID, asm Assembler) {
	children := parent.Children()
	for _, c := range children {
		if !t.IsLeaf(c) {
			gerr.Internal(
				"Coarsening of %v requested, but %v is not a leaf of the forest.",
				parent, c)
		}
	}

	blk := asm.AssembleParent(t, parent)
	for _, c := range children {
		t.Remove(c)
	}
	t.MustNode(parent).SetBlock(blk)
}

// Apply executes a full decision set: all coarsenings, then all refinements,
// in space-filling-curve order on every process. Leaves marked Coarsen whose
// octet is incomplete fail fast here as a second line of defense behind the
// analyzer.
func Apply(
	t *topology.Tree,
	marks map[topology.ID]multiresolution.Decision,
	asm Assembler,
) Changes {
	leaves := t.Leaves()
	ch := Changes{}

	seen := map[topology.ID]bool{}
	for _, id := range leaves {
		if marks[id] != multiresolution.Coarsen {
			continue
		}
		parent := id.Parent()
		if seen[parent] {
			continue
		}
		seen[parent] = true
		for _, s := range id.Siblings() {
			if marks[s] != multiresolution.Coarsen {
				gerr.Internal(
					"Partial sibling group under %v: %v is marked %v, not coarsen.",
					parent, s, marks[s])
			}
		}
		CoarsenGroup(t, parent, asm)
		ch.Coarsened = append(ch.Coarsened, parent)
	}

	for _, id := range leaves {
		if marks[id] != multiresolution.Refine {
			continue
		}
		Refine(t, id)
		ch.Refined = append(ch.Refined, id)
	}
	return ch
}
