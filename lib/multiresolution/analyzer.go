package multiresolution

import (
	"math"

	gerr "github.com/ludgerpaehler/ALPACA/lib/error"
	"github.com/ludgerpaehler/ALPACA/lib/topology"
)

// Decision is the analyzer's verdict for one leaf. The numeric order is the
// strength order used during relaxation: a mark may only ever be strengthened
// (Coarsen to Keep, Keep to Refine), which is what guarantees the fixed
// point terminates.
type Decision int

const (
	Coarsen Decision = iota
	Keep
	Refine
)

func (d Decision) String() string {
	switch d {
	case Coarsen:
		return "coarsen"
	case Keep:
		return "keep"
	case Refine:
		return "refine"
	}
	return "unknown"
}

// Analyzer turns per-leaf detail coefficients into refinement decisions.
//
// The threshold on a level scales relative to a reference level and
// reference value: Threshold(l) = ReferenceEpsilon * 2^(Exponent*(ReferenceLevel-l)).
// With a positive exponent, coarser levels tolerate proportionally larger
// detail before refining and finer levels use a tightened threshold. The
// exponent is a policy choice, not a fixed law; the default of 1 halves the
// tolerance per level of refinement.
type Analyzer struct {
	// MaxLevel is the deepest level refinement may create.
	MaxLevel int
	// ReferenceLevel and ReferenceEpsilon anchor the threshold scaling.
	ReferenceLevel   int
	ReferenceEpsilon float64
	// Exponent is the per-level scaling exponent of the threshold.
	Exponent float64
	// CoarsenFactor is the fraction of the threshold a whole sibling group
	// must fall below before it coarsens.
	CoarsenFactor float64
}

// Threshold returns the detail threshold applied on the given level.
func (a *Analyzer) Threshold(level int) float64 {
	return a.ReferenceEpsilon *
		math.Pow(2, a.Exponent*float64(a.ReferenceLevel-level))
}

// Mark computes one decision per leaf from the forest-wide detail map and
// relaxes the marks until applying them could not break 2:1 balance
// anywhere. Every process passes the same details (gathered and sorted by
// node ID), so every process computes identical marks.
//
// A detail strictly above the scaled threshold refines; equality keeps. A
// whole sibling octet strictly below CoarsenFactor times the threshold
// coarsens; partial octets never do.
func (a *Analyzer) Mark(t *topology.Tree, details map[topology.ID]float64) map[topology.ID]Decision {
	leaves := t.Leaves()
	marks := make(map[topology.ID]Decision, len(leaves))

	for _, id := range leaves {
		d, ok := details[id]
		if !ok {
			gerr.Internal("No detail coefficient was gathered for leaf %v.", id)
		}
		level := id.Level()
		eps := a.Threshold(level)
		switch {
		case d > eps && level < a.MaxLevel:
			marks[id] = Refine
		case level > 0 && d < a.CoarsenFactor*eps:
			marks[id] = Coarsen
		default:
			marks[id] = Keep
		}
	}

	a.demotePartialGroups(t, leaves, marks)
	for a.relaxOnce(t, leaves, marks) {
	}
	return marks
}

// demotePartialGroups turns Coarsen into Keep for every leaf whose sibling
// octet is not unanimously coarsenable. It returns true when any mark
// changed.
func (a *Analyzer) demotePartialGroups(
	t *topology.Tree, leaves []topology.ID, marks map[topology.ID]Decision,
) bool {
	changed := false
	for _, id := range leaves {
		if marks[id] != Coarsen {
			continue
		}
		for _, s := range id.Siblings() {
			if !t.IsLeaf(s) || marks[s] != Coarsen {
				marks[id] = Keep
				changed = true
				break
			}
		}
	}
	return changed
}

// relaxOnce performs one sweep of the 2:1 relaxation: wherever applying the
// current marks would leave two adjacent leaves more than one level apart,
// the weaker mark is strengthened by one step. Returns true when any mark
// changed; the caller iterates to the fixed point.
func (a *Analyzer) relaxOnce(
	t *topology.Tree, leaves []topology.ID, marks map[topology.ID]Decision,
) bool {
	eff := func(id topology.ID) int {
		switch marks[id] {
		case Refine:
			return id.Level() + 1
		case Coarsen:
			return id.Level() - 1
		}
		return id.Level()
	}
	strengthen := func(id topology.ID) {
		switch marks[id] {
		case Coarsen:
			marks[id] = Keep
		case Keep:
			if id.Level() >= a.MaxLevel {
				gerr.Internal(
					"Relaxation would refine %v past the maximum level %d.",
					id, a.MaxLevel)
			}
			marks[id] = Refine
		default:
			gerr.Internal("Relaxation tried to strengthen %v past refine.", id)
		}
	}

	changed := false
	for _, id := range leaves {
		for _, dir := range topology.Directions {
			nb := t.NeighborOf(id, dir)
			var others []topology.ID
			switch nb.Relation {
			case topology.DomainBoundary:
				continue
			case topology.SameLevel:
				others = []topology.ID{nb.Same}
			case topology.Coarser:
				others = []topology.ID{nb.Coarser}
			case topology.Finer:
				others = nb.Finer
			}
			for _, other := range others {
				for eff(id)-eff(other) > 1 {
					strengthen(other)
					changed = true
				}
				for eff(other)-eff(id) > 1 {
					strengthen(id)
					changed = true
				}
			}
		}
	}
	if a.demotePartialGroups(t, leaves, marks) {
		changed = true
	}
	return changed
}
