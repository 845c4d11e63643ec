package halo

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ludgerpaehler/ALPACA/lib/block"
	"github.com/ludgerpaehler/ALPACA/lib/comm"
	"github.com/ludgerpaehler/ALPACA/lib/dims"
	"github.com/ludgerpaehler/ALPACA/lib/loadbalance"
	"github.com/ludgerpaehler/ALPACA/lib/topology"
)

const sentinel = -777.0

// globalField assigns every cell a value derived from its domain-global
// position, so a ghost cell and the interior cell it mirrors must hold the
// same bits.
func globalField(i, j, k int) float64 {
	return float64(i) + 100.0*float64(j) + 10000.0*float64(k)
}

// attachGlobalBlock attaches a block whose Base interiors follow the global
// field and whose ghost cells hold a sentinel; non-Base roles hold the
// sentinel everywhere.
func attachGlobalBlock(t *testing.T, tr *topology.Tree, id topology.ID) {
	t.Helper()
	b := block.New()
	b.ActiveBuffers(func(buf block.Buffer) { buf.Fill(sentinel) })

	x, y, z := id.Index()
	forEachBase(b, func(buf block.Buffer) {
		for k := dims.InteriorLow; k < dims.InteriorHigh; k++ {
			for j := dims.InteriorLow; j < dims.InteriorHigh; j++ {
				for i := dims.InteriorLow; i < dims.InteriorHigh; i++ {
					buf.Set(i, j, k, globalField(
						x*dims.InternalCells+i-dims.HaloWidth,
						y*dims.InternalCells+j-dims.HaloWidth,
						z*dims.InternalCells+k-dims.HaloWidth))
				}
			}
		}
	})
	tr.MustNode(id).SetBlock(b)
}

func forEachBase(b *block.Block, f func(buf block.Buffer)) {
	for c := block.Conservative(0); c < block.ConservativeCount; c++ {
		f(b.ConservativeBuffer(block.Base, c))
	}
	for i := block.InterfaceField(0); i < block.InterfaceFieldCount; i++ {
		f(b.InterfaceBuffer(block.Base, i))
	}
}

// replicaTrees builds n topologically identical forests of nx x 1 x 1 roots.
func replicaTrees(t *testing.T, n, nx, maxLevel int) []*topology.Tree {
	t.Helper()
	trees := make([]*topology.Tree, n)
	for r := range trees {
		tr, err := topology.New(nx, 1, 1, 1.0, maxLevel)
		require.NoError(t, err)
		trees[r] = tr
	}
	return trees
}

func TestExchangeSameLevelIsBitForBit(t *testing.T) {
	tr := replicaTrees(t, 1, 2, 1)[0]
	left := topology.IDFromIndex(0, 0, 0, 0)
	right := topology.IDFromIndex(0, 1, 0, 0)
	attachGlobalBlock(t, tr, left)
	attachGlobalBlock(t, tr, right)

	assign := loadbalance.Partition(tr.Leaves(), 1)
	ex := New(tr, comm.NewGroup(1)[0])
	require.NoError(t, ex.Exchange(assign))

	// The +x ghost layer of the left block mirrors the right interior, and
	// vice versa. A same-level copy is exact, so the comparison is ==.
	lb := tr.MustNode(left).Block().ConservativeBuffer(block.Base, block.Mass)
	rb := tr.MustNode(right).Block().ConservativeBuffer(block.Base, block.Mass)
	for k := dims.InteriorLow; k < dims.InteriorHigh; k++ {
		for j := dims.InteriorLow; j < dims.InteriorHigh; j++ {
			for i := dims.InteriorHigh; i < dims.TotalCells; i++ {
				want := globalField(i-dims.HaloWidth, j-dims.HaloWidth, k-dims.HaloWidth)
				require.Equal(t, want, lb.At(i, j, k), "left ghost (%d,%d,%d)", i, j, k)
			}
			for i := 0; i < dims.HaloWidth; i++ {
				want := globalField(i-dims.HaloWidth, j-dims.HaloWidth, k-dims.HaloWidth)
				require.Equal(t, want, rb.At(i, j, k), "right ghost (%d,%d,%d)", i, j, k)
			}
		}
	}

	// Domain-boundary ghosts are not touched by the exchange.
	assert.Equal(t, sentinel, lb.At(0, dims.InteriorLow, dims.InteriorLow))
	assert.Equal(t, sentinel, rb.At(dims.TotalCells-1, dims.InteriorLow, dims.InteriorLow))

	// Only Base crosses block boundaries.
	rhs := tr.MustNode(left).Block().ConservativeBuffer(block.RightHandSide, block.Mass)
	assert.Equal(t, sentinel, rhs.At(dims.InteriorHigh, dims.InteriorLow, dims.InteriorLow))
}

func TestExchangeAcrossRanksMatchesLocalExchange(t *testing.T) {
	// Two ranks, one leaf each. Every rank holds the full topology but only
	// its own leaf's data; the exchanged ghosts must be bitwise identical to
	// the single-rank result.
	trees := replicaTrees(t, 2, 2, 1)
	left := topology.IDFromIndex(0, 0, 0, 0)
	right := topology.IDFromIndex(0, 1, 0, 0)

	assign := loadbalance.Partition(trees[0].Leaves(), 2)
	require.Equal(t, 0, assign.Owner(left))
	require.Equal(t, 1, assign.Owner(right))
	attachGlobalBlock(t, trees[0], left)
	attachGlobalBlock(t, trees[1], right)

	comms := comm.NewGroup(2)
	wg := sync.WaitGroup{}
	errs := make([]error, 2)
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			errs[r] = New(trees[r], comms[r]).Exchange(assign)
		}(r)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	lb := trees[0].MustNode(left).Block().ConservativeBuffer(block.Base, block.Mass)
	rb := trees[1].MustNode(right).Block().ConservativeBuffer(block.Base, block.Mass)
	for k := dims.InteriorLow; k < dims.InteriorHigh; k++ {
		for j := dims.InteriorLow; j < dims.InteriorHigh; j++ {
			for i := dims.InteriorHigh; i < dims.TotalCells; i++ {
				want := globalField(i-dims.HaloWidth, j-dims.HaloWidth, k-dims.HaloWidth)
				require.Equal(t, want, lb.At(i, j, k), "left ghost (%d,%d,%d)", i, j, k)
			}
			for i := 0; i < dims.HaloWidth; i++ {
				want := globalField(i-dims.HaloWidth, j-dims.HaloWidth, k-dims.HaloWidth)
				require.Equal(t, want, rb.At(i, j, k), "right ghost (%d,%d,%d)", i, j, k)
			}
		}
	}
}

// coarseFineForest builds a 2 x 1 x 1 forest with the left root refined,
// yielding a level jump across the shared face.
func coarseFineForest(t *testing.T) (*topology.Tree, topology.ID, topology.ID) {
	t.Helper()
	tr := replicaTrees(t, 1, 2, 1)[0]
	left := topology.IDFromIndex(0, 0, 0, 0)
	right := topology.IDFromIndex(0, 1, 0, 0)
	for _, c := range left.Children() {
		tr.Insert(c)
	}
	return tr, left, right
}

func TestExchangeRestrictsFineIntoCoarseGhost(t *testing.T) {
	tr, left, right := coarseFineForest(t)

	// Fine interiors hold a constant; every ghost cell holds the sentinel.
	// The volume average of a constant is the constant, bit for bit.
	const c = 8.0
	for _, child := range left.Children() {
		b := block.New()
		b.ActiveBuffers(func(buf block.Buffer) { buf.Fill(sentinel) })
		forEachBase(b, func(buf block.Buffer) { fillInterior(buf, c) })
		tr.MustNode(child).SetBlock(b)
	}
	rb := block.New()
	rb.ActiveBuffers(func(buf block.Buffer) { buf.Fill(sentinel) })
	forEachBase(rb, func(buf block.Buffer) { fillInterior(buf, c) })
	tr.MustNode(right).SetBlock(rb)

	assign := loadbalance.Partition(tr.Leaves(), 1)
	require.NoError(t, New(tr, comm.NewGroup(1)[0]).Exchange(assign))

	mass := tr.MustNode(right).Block().ConservativeBuffer(block.Base, block.Mass)
	for k := dims.InteriorLow; k < dims.InteriorHigh; k++ {
		for j := dims.InteriorLow; j < dims.InteriorHigh; j++ {
			for i := 0; i < dims.HaloWidth; i++ {
				require.Equal(t, c, mass.At(i, j, k), "coarse ghost (%d,%d,%d)", i, j, k)
			}
		}
	}
}

func TestExchangeProlongsCoarseIntoFineGhost(t *testing.T) {
	tr, left, right := coarseFineForest(t)

	// The whole coarse block holds a constant, halo included: the slope
	// stencil then vanishes and prolongation must reproduce the constant
	// exactly in every fine ghost cell on the shared face.
	const c = 5.5
	for _, child := range left.Children() {
		b := block.New()
		b.ActiveBuffers(func(buf block.Buffer) { buf.Fill(sentinel) })
		forEachBase(b, func(buf block.Buffer) { fillInterior(buf, c) })
		tr.MustNode(child).SetBlock(b)
	}
	rb := block.New()
	rb.ActiveBuffers(func(buf block.Buffer) { buf.Fill(sentinel) })
	forEachBase(rb, func(buf block.Buffer) { buf.Fill(c) })
	tr.MustNode(right).SetBlock(rb)

	assign := loadbalance.Partition(tr.Leaves(), 1)
	require.NoError(t, New(tr, comm.NewGroup(1)[0]).Exchange(assign))

	// The four fine leaves on the shared face are the children with a high
	// x octant bit.
	for _, octant := range []int{1, 3, 5, 7} {
		child := left.Child(octant)
		mass := tr.MustNode(child).Block().ConservativeBuffer(block.Base, block.Mass)
		for k := dims.InteriorLow; k < dims.InteriorHigh; k++ {
			for j := dims.InteriorLow; j < dims.InteriorHigh; j++ {
				for i := dims.InteriorHigh; i < dims.TotalCells; i++ {
					require.Equal(t, c, mass.At(i, j, k),
						"fine ghost of octant %d at (%d,%d,%d)", octant, i, j, k)
				}
			}
		}
	}
}

func fillInterior(buf block.Buffer, v float64) {
	for k := dims.InteriorLow; k < dims.InteriorHigh; k++ {
		for j := dims.InteriorLow; j < dims.InteriorHigh; j++ {
			for i := dims.InteriorLow; i < dims.InteriorHigh; i++ {
				buf.Set(i, j, k, v)
			}
		}
	}
}
