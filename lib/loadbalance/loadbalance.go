/*package loadbalance partitions the space-filling-curve-ordered leaf
sequence into contiguous per-process ranges. The assignment is recomputed
wholesale whenever topology changes; it is never patched incrementally.*/
package loadbalance

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	gerr "github.com/ludgerpaehler/ALPACA/lib/error"
	"github.com/ludgerpaehler/ALPACA/lib/topology"
)

// Assignment maps every leaf to exactly one owning process rank. Each rank
// owns a contiguous range of the curve-ordered leaf sequence, which keeps
// spatially nearby blocks on the same process.
type Assignment struct {
	leaves []topology.ID
	starts []int // starts[r]..starts[r+1] is rank r's range; len = ranks+1
	owner  map[topology.ID]int
}

// Ranks returns the number of processes the leaves are split over.
func (a *Assignment) Ranks() int { return len(a.starts) - 1 }

// Leaves returns the full curve-ordered leaf sequence.
func (a *Assignment) Leaves() []topology.ID { return a.leaves }

// Owner returns the rank that owns a leaf. An unknown leaf is a consistency
// violation and fails fast: it means topology and assignment have diverged.
func (a *Assignment) Owner(id topology.ID) int {
	r, ok := a.owner[id]
	if !ok {
		gerr.Internal("Leaf %v is not covered by the process assignment.", id)
	}
	return r
}

// RangeOf returns the leaves owned by one rank. Ranks beyond the leaf count
// own empty ranges; that is tolerated, not an error.
func (a *Assignment) RangeOf(rank int) []topology.ID {
	return a.leaves[a.starts[rank]:a.starts[rank+1]]
}

// Partition splits the leaf sequence into ranks contiguous ranges whose
// sizes differ by at most one. The input must already be in
// space-filling-curve order, as produced by Tree.Leaves.
func Partition(leaves []topology.ID, ranks int) *Assignment {
	if ranks < 1 {
		gerr.Internal("Partitioning requires at least one rank, got %d.", ranks)
	}
	checkOrdered(leaves)

	base, rem := len(leaves)/ranks, len(leaves)%ranks
	starts := make([]int, ranks+1)
	for r := 0; r < ranks; r++ {
		n := base
		if r < rem {
			n++
		}
		starts[r+1] = starts[r] + n
	}
	return build(leaves, starts)
}

// PartitionWeighted splits the leaf sequence into ranks contiguous ranges
// with approximately equal total cost. The cut points are chosen against the
// ideal prefix targets total*r/ranks, so the imbalance of any range is
// bounded by the largest single-leaf weight.
func PartitionWeighted(leaves []topology.ID, weights []float64, ranks int) *Assignment {
	if ranks < 1 {
		gerr.Internal("Partitioning requires at least one rank, got %d.", ranks)
	}
	if len(weights) != len(leaves) {
		gerr.Internal("Got %d leaf weights for %d leaves.", len(weights), len(leaves))
	}
	checkOrdered(leaves)

	total := floats.Sum(weights)
	starts := make([]int, ranks+1)
	starts[ranks] = len(leaves)

	cum := 0.0
	i := 0
	for r := 1; r < ranks; r++ {
		target := total * float64(r) / float64(ranks)
		// Greedy cut: take the next leaf as long as it moves the prefix at
		// least as close to the ideal target as leaving it.
		for i < len(leaves) &&
			math.Abs(cum+weights[i]-target) <= math.Abs(cum-target) {
			cum += weights[i]
			i++
		}
		// Feasibility clamps: while leaves remain, no rank before or after
		// this cut may be forced empty.
		lo := r
		if lo > len(leaves) {
			lo = len(leaves)
		}
		hi := len(leaves) - (ranks - r)
		if hi < lo {
			hi = lo
		}
		for i < lo {
			cum += weights[i]
			i++
		}
		for i > hi {
			i--
			cum -= weights[i]
		}
		starts[r] = i
	}
	return build(leaves, starts)
}

func build(leaves []topology.ID, starts []int) *Assignment {
	a := &Assignment{
		leaves: leaves,
		starts: starts,
		owner:  make(map[topology.ID]int, len(leaves)),
	}
	for r := 0; r+1 < len(starts); r++ {
		for _, id := range leaves[starts[r]:starts[r+1]] {
			a.owner[id] = r
		}
	}
	return a
}

func checkOrdered(leaves []topology.ID) {
	ordered := sort.SliceIsSorted(leaves, func(i, j int) bool {
		return leaves[i].Less(leaves[j])
	})
	if !ordered {
		gerr.Internal("Leaves passed to the load balancer are not in curve order.")
	}
}

// Move describes one block that must change owner before the next halo
// exchange.
type Move struct {
	Leaf     topology.ID
	From, To int
}

// Moves compares the current per-leaf owners against a freshly computed
// assignment and lists every block that has to migrate, in curve order. The
// owners map must cover exactly the leaves of the assignment.
func Moves(owners map[topology.ID]int, next *Assignment) []Move {
	moves := []Move{}
	for _, id := range next.Leaves() {
		from, ok := owners[id]
		if !ok {
			gerr.Internal("Leaf %v has no current owner to migrate from.", id)
		}
		if to := next.Owner(id); from != to {
			moves = append(moves, Move{Leaf: id, From: from, To: to})
		}
	}
	return moves
}
