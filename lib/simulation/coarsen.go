package simulation

/* coarsen.go implements the distributed side of coarsening. The contiguous
partition keeps sibling octets on one rank almost always, but a range
boundary may split an octet; in that case every child owner restricts its
octant locally and ships only the restricted contribution to the group
leader, the owner of the first child. */

import (
	"fmt"

	"github.com/ludgerpaehler/ALPACA/lib/block"
	"github.com/ludgerpaehler/ALPACA/lib/comm"
	gerr "github.com/ludgerpaehler/ALPACA/lib/error"
	"github.com/ludgerpaehler/ALPACA/lib/multiresolution"
	"github.com/ludgerpaehler/ALPACA/lib/topology"
)

// groupAssembler implements mutator.Assembler with parent blocks that were
// assembled, possibly across ranks, before the mutation ran.
type groupAssembler struct {
	parents map[topology.ID]*block.Block
	leaders map[topology.ID]int
}

// AssembleParent hands the mutator a pre-assembled parent block, or nil on
// ranks that do not lead the group.
func (a *groupAssembler) AssembleParent(
	_ *topology.Tree, parent topology.ID,
) *block.Block {
	return a.parents[parent]
}

// assembleCoarsenedParents walks the coarsen groups in curve order, moves
// restricted octant contributions to each group's leader, and returns the
// assembler the mutator will consume. It must run while the children are
// still leaves with resident data.
func (r *Rank) assembleCoarsenedParents(
	marks map[topology.ID]multiresolution.Decision,
) (*groupAssembler, error) {
	me := r.comm.Rank()
	asm := &groupAssembler{
		parents: map[topology.ID]*block.Block{},
		leaders: map[topology.ID]int{},
	}

	type expectation struct {
		parent topology.ID
		octant int
	}
	outgoing := make([][]byte, r.comm.Size())
	expected := make([][]expectation, r.comm.Size())
	scratch := make([]float64, multiresolution.OctantCellCount)

	for _, id := range r.tree.Leaves() {
		if marks[id] != multiresolution.Coarsen {
			continue
		}
		parent := id.Parent()
		if _, seen := asm.leaders[parent]; seen {
			continue
		}
		children := parent.Children()
		leader := r.owners[children[0]]
		asm.leaders[parent] = leader
		if leader == me {
			asm.parents[parent] = block.New()
		}

		for _, c := range children {
			owner, ok := r.owners[c]
			if !ok {
				gerr.Internal("Coarsen group under %v: child %v has no owner.",
					parent, c)
			}
			switch {
			case owner == me && leader == me:
				restrictLocal(r.mustOwnedBlock(c), asm.parents[parent],
					c.Octant(), scratch)
			case owner == me:
				outgoing[leader] = packOctant(outgoing[leader],
					r.mustOwnedBlock(c), scratch)
			case leader == me:
				expected[owner] = append(expected[owner],
					expectation{parent, c.Octant()})
			}
		}
	}

	incoming, err := r.comm.Alltoall(outgoing)
	if err != nil {
		return nil, fmt.Errorf("gathering coarsening contributions: %w", err)
	}

	for src := 0; src < r.comm.Size(); src++ {
		buf := incoming[src]
		for _, exp := range expected[src] {
			buf, err = unpackOctant(buf, asm.parents[exp.parent], exp.octant)
			if err != nil {
				gerr.Internal(
					"Coarsening contribution from rank %d is malformed: %v.",
					src, err)
			}
		}
		if len(buf) != 0 {
			gerr.Internal(
				"Coarsening message from rank %d carries %d unexpected trailing bytes.",
				src, len(buf))
		}
	}
	return asm, nil
}

// restrictLocal restricts every active buffer of one resident child into the
// parent's matching octant region.
func restrictLocal(child, parent *block.Block, octant int, scratch []float64) {
	childBufs := []block.Buffer{}
	child.ActiveBuffers(func(b block.Buffer) { childBufs = append(childBufs, b) })
	i := 0
	parent.ActiveBuffers(func(b block.Buffer) {
		multiresolution.RestrictOctant(childBufs[i], scratch)
		multiresolution.InstallOctant(b, octant, scratch)
		i++
	})
}

// packOctant appends one child's restricted contribution, buffer by buffer
// in the fixed active-buffer order.
func packOctant(out []byte, child *block.Block, scratch []float64) []byte {
	child.ActiveBuffers(func(b block.Buffer) {
		multiresolution.RestrictOctant(b, scratch)
		out = comm.AppendFloat64s(out, scratch)
	})
	return out
}

// unpackOctant decodes one contribution and installs it into the parent.
func unpackOctant(buf []byte, parent *block.Block, octant int) ([]byte, error) {
	scratch := make([]float64, multiresolution.OctantCellCount)
	var err error
	parent.ActiveBuffers(func(b block.Buffer) {
		if err != nil {
			return
		}
		buf, err = comm.DecodeFloat64sInto(scratch, buf)
		if err != nil {
			return
		}
		multiresolution.InstallOctant(b, octant, scratch)
	})
	return buf, err
}
