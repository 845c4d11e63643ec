/*package halo keeps the ghost layers of neighboring blocks consistent. For
every leaf and every face, edge, and corner direction it resolves the
neighbor by index arithmetic and applies the transfer the level difference
requires: a direct copy between same-level leaves, restriction of a finer
neighbor's boundary cells into a coarse ghost layer, or prolongation of a
coarser neighbor's cells into a fine ghost layer.

Only the Base buffers cross block boundaries; no other role is ever read by
a neighbor. Cross-process transfers are packed into one message per
destination rank. The enumeration of transfer records is a pure function of
the replicated topology and assignment, walked in the same order on every
rank, which is what lets both ends of a message agree on its layout without
any per-record framing.*/
package halo

import (
	"fmt"

	"github.com/ludgerpaehler/ALPACA/lib/block"
	"github.com/ludgerpaehler/ALPACA/lib/comm"
	"github.com/ludgerpaehler/ALPACA/lib/dims"
	gerr "github.com/ludgerpaehler/ALPACA/lib/error"
	"github.com/ludgerpaehler/ALPACA/lib/loadbalance"
	"github.com/ludgerpaehler/ALPACA/lib/multiresolution"
	"github.com/ludgerpaehler/ALPACA/lib/topology"
)

// Exchanger runs ghost-layer exchanges over one forest and one communicator.
type Exchanger struct {
	tree *topology.Tree
	comm *comm.Comm
}

// New creates an exchanger. The tree is the process-local replica of the
// forest topology; blocks are only attached to the leaves this rank owns.
func New(tree *topology.Tree, c *comm.Comm) *Exchanger {
	return &Exchanger{tree: tree, comm: c}
}

// transferKind selects the operator a record applies.
type transferKind int

const (
	copySame transferKind = iota
	prolongFromCoarse
	restrictFromFine
)

// record is one directed ghost transfer: source leaf data into the ghost
// region of the target leaf for one direction. Records are ephemeral; they
// are recomputed from topology on every exchange cycle and never persisted.
type record struct {
	kind   transferKind
	target topology.ID
	dir    topology.Direction
	source topology.ID
}

// Exchange makes every owned leaf's ghost layer consistent with its
// neighbors' Base data. It is a synchronization point: all sends are issued
// before any receive is consumed, and no ghost value written by this cycle
// is observable until the call returns on every rank.
func (e *Exchanger) Exchange(assign *loadbalance.Assignment) error {
	rank := e.comm.Rank()

	type localWrite struct {
		rec    record
		values []float64
	}
	locals := []localWrite{}
	outgoing := make([][]byte, e.comm.Size())
	expected := make([][]record, e.comm.Size())

	for _, target := range e.tree.Leaves() {
		tOwner := assign.Owner(target)
		for _, dir := range topology.Directions {
			nb := e.tree.NeighborOf(target, dir)
			for _, rec := range neighborRecords(target, dir, nb) {
				sOwner := assign.Owner(rec.source)
				switch {
				case sOwner == rank && tOwner == rank:
					// Values are staged now and written after the exchange,
					// so every transfer of the cycle reads pre-cycle state.
					locals = append(locals, localWrite{rec, e.computeValues(rec)})
				case sOwner == rank:
					outgoing[tOwner] = comm.AppendFloat64s(
						outgoing[tOwner], e.computeValues(rec))
				case tOwner == rank:
					expected[sOwner] = append(expected[sOwner], rec)
				}
			}
		}
	}

	incoming, err := e.comm.Alltoall(outgoing)
	if err != nil {
		return fmt.Errorf("halo exchange: %w", err)
	}

	for _, lw := range locals {
		e.writeValues(lw.rec, lw.values)
	}
	for src := 0; src < e.comm.Size(); src++ {
		buf := incoming[src]
		for _, rec := range expected[src] {
			n := len(recordCells(rec))
			values := make([]float64, n*exchangedFieldCount())
			buf, err = comm.DecodeFloat64sInto(values, buf)
			if err != nil {
				gerr.Internal(
					"Halo message from rank %d does not match the replicated "+
						"topology: %v. Owner or topology state has diverged.",
					src, err)
			}
			e.writeValues(rec, values)
		}
		if len(buf) != 0 {
			gerr.Internal(
				"Halo message from rank %d carries %d unexpected trailing bytes.",
				src, len(buf))
		}
	}
	return nil
}

// neighborRecords expands one resolved neighbor into transfer records. A
// finer neighbor region yields one record per contributing child, so a child
// octet split across ranks still produces well-defined per-owner messages.
func neighborRecords(
	target topology.ID, dir topology.Direction, nb topology.Neighbor,
) []record {
	switch nb.Relation {
	case topology.SameLevel:
		return []record{{copySame, target, dir, nb.Same}}
	case topology.Coarser:
		return []record{{prolongFromCoarse, target, dir, nb.Coarser}}
	case topology.Finer:
		recs := make([]record, 0, len(nb.Finer))
		for _, c := range nb.Finer {
			recs = append(recs, record{restrictFromFine, target, dir, c})
		}
		return recs
	}
	return nil
}

// exchangedBuffers returns the Base buffers neighbors read, in the fixed
// field order both ends of a message assume.
func exchangedBuffers(b *block.Block) []block.Buffer {
	bufs := make([]block.Buffer, 0, exchangedFieldCount())
	for f := block.Conservative(0); f < block.ConservativeCount; f++ {
		bufs = append(bufs, b.ConservativeBuffer(block.Base, f))
	}
	if dims.LevelsetActive {
		for f := block.InterfaceField(0); f < block.InterfaceFieldCount; f++ {
			bufs = append(bufs, b.InterfaceBuffer(block.Base, f))
		}
	}
	return bufs
}

func exchangedFieldCount() int {
	n := int(block.ConservativeCount)
	if dims.LevelsetActive {
		n += int(block.InterfaceFieldCount)
	}
	return n
}

// mustBlock returns the resident block of a leaf this rank is supposed to
// own. A missing block means assignment and residency have diverged, which
// would silently corrupt results if execution continued.
func (e *Exchanger) mustBlock(id topology.ID) *block.Block {
	n := e.tree.MustNode(id)
	if !n.HasBlock() {
		gerr.Internal(
			"Halo exchange needs the data of %v on rank %d, but it is not resident.",
			id, e.comm.Rank())
	}
	return n.Block()
}

// computeValues evaluates one record on the source side: field-major, cells
// in the fixed record order.
func (e *Exchanger) computeValues(rec record) []float64 {
	cells := recordCells(rec)
	bufs := exchangedBuffers(e.mustBlock(rec.source))
	values := make([]float64, 0, len(cells)*len(bufs))
	for _, buf := range bufs {
		for _, c := range cells {
			values = append(values, e.sourceValue(rec, buf, c))
		}
	}
	return values
}

// writeValues stores one record's values into the target's ghost cells.
func (e *Exchanger) writeValues(rec record, values []float64) {
	cells := recordCells(rec)
	bufs := exchangedBuffers(e.mustBlock(rec.target))
	n := 0
	for _, buf := range bufs {
		for _, c := range cells {
			buf.Set(c[0], c[1], c[2], values[n])
			n++
		}
	}
	if n != len(values) {
		gerr.Internal("Ghost write for %v consumed %d of %d values.",
			rec.target, n, len(values))
	}
}

// sourceValue computes one ghost cell's value from source-side Base data.
func (e *Exchanger) sourceValue(rec record, buf block.Buffer, cell [3]int) float64 {
	switch rec.kind {
	case copySame:
		return buf.At(
			cell[0]-rec.dir.X*dims.InternalCells,
			cell[1]-rec.dir.Y*dims.InternalCells,
			cell[2]-rec.dir.Z*dims.InternalCells)
	case prolongFromCoarse:
		return prolongValue(buf, rec.target, rec.source, cell)
	case restrictFromFine:
		return restrictValue(buf, rec.target, rec.source, cell)
	}
	gerr.Internal("Unknown transfer kind %d.", rec.kind)
	return 0
}

// prolongValue interpolates a coarse neighbor's cells at the center of one
// fine ghost cell. The trilinear stencil may reach one cell into the coarse
// block's own halo, whose values are one cycle old; the constant term always
// comes from current interior data.
func prolongValue(coarse block.Buffer, target, source topology.ID, cell [3]int) float64 {
	tIdx := indexOf(target)
	sIdx := indexOf(source)
	var lc [3]int
	var shift [3]float64
	for a := 0; a < 3; a++ {
		gf := tIdx[a]*dims.InternalCells + cell[a] - dims.HaloWidth
		gc := floorDiv(gf, 2)
		lc[a] = gc - sIdx[a]*dims.InternalCells + dims.HaloWidth
		if gf-2*gc == 0 {
			shift[a] = -0.25
		} else {
			shift[a] = 0.25
		}
	}
	return multiresolution.TrilinearCell(
		coarse, lc[0], lc[1], lc[2], shift[0], shift[1], shift[2])
}

// restrictValue volume-averages the eight fine cells of one child that make
// up a coarse ghost cell.
func restrictValue(fine block.Buffer, target, source topology.ID, cell [3]int) float64 {
	tIdx := indexOf(target)
	sIdx := indexOf(source)
	var lf [3]int
	for a := 0; a < 3; a++ {
		gc := tIdx[a]*dims.InternalCells + cell[a] - dims.HaloWidth
		lf[a] = 2*gc - sIdx[a]*dims.InternalCells + dims.HaloWidth
	}
	sum := 0.0
	for dz := 0; dz < 2; dz++ {
		for dy := 0; dy < 2; dy++ {
			for dx := 0; dx < 2; dx++ {
				sum += fine.At(lf[0]+dx, lf[1]+dy, lf[2]+dz)
			}
		}
	}
	return sum / 8.0
}

// recordCells lists the target ghost cells a record fills, in the fixed
// (z, y, x ascending, x fastest) order the wire layout assumes. For a
// restriction record only the cells sourced from that particular child are
// listed.
func recordCells(rec record) [][3]int {
	rx := ghostRange(rec.dir.X)
	ry := ghostRange(rec.dir.Y)
	rz := ghostRange(rec.dir.Z)
	cells := make([][3]int, 0, (rx.hi-rx.lo)*(ry.hi-ry.lo)*(rz.hi-rz.lo))
	for k := rz.lo; k < rz.hi; k++ {
		for j := ry.lo; j < ry.hi; j++ {
			for i := rx.lo; i < rx.hi; i++ {
				c := [3]int{i, j, k}
				if rec.kind == restrictFromFine &&
					sourceChildOf(rec.target, c) != rec.source {
					continue
				}
				cells = append(cells, c)
			}
		}
	}
	return cells
}

type axisRange struct{ lo, hi int }

// ghostRange returns the cell range of the ghost region along one axis for
// one direction component.
func ghostRange(d int) axisRange {
	switch d {
	case -1:
		return axisRange{0, dims.HaloWidth}
	case 1:
		return axisRange{dims.InteriorHigh, dims.TotalCells}
	}
	return axisRange{dims.InteriorLow, dims.InteriorHigh}
}

// sourceChildOf returns the ID of the one finer leaf whose interior covers
// a coarse ghost cell. Both fine cells of a coarse cell share a fine block
// along every axis, so the mapping is unambiguous.
func sourceChildOf(target topology.ID, cell [3]int) topology.ID {
	tIdx := indexOf(target)
	var fIdx [3]int
	for a := 0; a < 3; a++ {
		gc := tIdx[a]*dims.InternalCells + cell[a] - dims.HaloWidth
		fIdx[a] = floorDiv(2*gc, dims.InternalCells)
	}
	return topology.IDFromIndex(target.Level()+1, fIdx[0], fIdx[1], fIdx[2])
}

func indexOf(id topology.ID) [3]int {
	x, y, z := id.Index()
	return [3]int{x, y, z}
}

// floorDiv divides rounding toward negative infinity; plain integer
// division would round ghost coordinates on the low domain side the wrong
// way.
func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
