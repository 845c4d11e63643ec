/*package multiresolution implements the wavelet-style refinement machinery:
the prediction (interpolation) and restriction (averaging) operators that move
data between levels, the per-block detail coefficient, and the analyzer that
turns details into refine/coarsen/keep decisions under the 2:1 balance
invariant.*/
package multiresolution

import (
	"github.com/ludgerpaehler/ALPACA/lib/block"
	"github.com/ludgerpaehler/ALPACA/lib/dims"
	gerr "github.com/ludgerpaehler/ALPACA/lib/error"
)

// OctantCells is the per-axis extent of the region one child contributes to
// its parent's interior.
const OctantCells = dims.InternalCells / 2

// OctantCellCount is the flat length of one restricted octant contribution.
const OctantCellCount = OctantCells * OctantCells * OctantCells

// octantOffset returns the low corner of the parent-interior region that the
// given octant occupies, per axis.
func octantOffset(octant int) (ox, oy, oz int) {
	ox = dims.InteriorLow + (octant&1)*OctantCells
	oy = dims.InteriorLow + (octant>>1&1)*OctantCells
	oz = dims.InteriorLow + (octant>>2&1)*OctantCells
	return ox, oy, oz
}

// RestrictOctant volume-averages the interior of a child buffer into a flat
// OctantCellCount array, ordered x-fastest. The flat form is what coarsening
// ships between processes when siblings are split across owners.
func RestrictOctant(child block.Buffer, out []float64) {
	if len(out) != OctantCellCount {
		gerr.Internal("Restricted octant needs %d cells, got %d.",
			OctantCellCount, len(out))
	}
	n := 0
	for k := 0; k < OctantCells; k++ {
		for j := 0; j < OctantCells; j++ {
			for i := 0; i < OctantCells; i++ {
				ci := dims.InteriorLow + 2*i
				cj := dims.InteriorLow + 2*j
				ck := dims.InteriorLow + 2*k
				sum := 0.0
				for dz := 0; dz < 2; dz++ {
					for dy := 0; dy < 2; dy++ {
						for dx := 0; dx < 2; dx++ {
							sum += child.At(ci+dx, cj+dy, ck+dz)
						}
					}
				}
				out[n] = sum / 8.0
				n++
			}
		}
	}
}

// InstallOctant writes a restricted octant contribution into the matching
// region of the parent buffer's interior.
func InstallOctant(parent block.Buffer, octant int, in []float64) {
	if len(in) != OctantCellCount {
		gerr.Internal("Octant contribution needs %d cells, got %d.",
			OctantCellCount, len(in))
	}
	ox, oy, oz := octantOffset(octant)
	n := 0
	for k := 0; k < OctantCells; k++ {
		for j := 0; j < OctantCells; j++ {
			for i := 0; i < OctantCells; i++ {
				parent.Set(ox+i, oy+j, oz+k, in[n])
				n++
			}
		}
	}
}

// PredictChild fills the interior of a child buffer from its parent by
// trilinear reconstruction: the parent cell value plus central-difference
// slopes evaluated at the fine cell centers (offsets of a quarter parent
// cell). Prediction of a spatially constant parent is exactly the identity,
// which the conservation round-trip with RestrictOctant depends on.
func PredictChild(parent, child block.Buffer, octant int) {
	ox, oy, oz := octantOffset(octant)
	for k := dims.InteriorLow; k < dims.InteriorHigh; k++ {
		for j := dims.InteriorLow; j < dims.InteriorHigh; j++ {
			for i := dims.InteriorLow; i < dims.InteriorHigh; i++ {
				pi := ox + (i-dims.InteriorLow)/2
				pj := oy + (j-dims.InteriorLow)/2
				pk := oz + (k-dims.InteriorLow)/2
				sx := quarterShift(i)
				sy := quarterShift(j)
				sz := quarterShift(k)
				child.Set(i, j, k, TrilinearCell(parent, pi, pj, pk, sx, sy, sz))
			}
		}
	}
}

// quarterShift maps a fine cell's parity to its center offset within the
// parent cell, in units of the parent cell size.
func quarterShift(i int) float64 {
	if (i-dims.InteriorLow)&1 == 0 {
		return -0.25
	}
	return 0.25
}

// TrilinearCell evaluates the trilinear reconstruction of a coarse buffer at
// the point shifted by (sx, sy, sz) parent-cell widths from the center of
// cell (ci, cj, ck). The ±1 stencil must stay inside the buffer, halo
// included; callers arrange their loops so it does.
func TrilinearCell(src block.Buffer, ci, cj, ck int, sx, sy, sz float64) float64 {
	v := src.At(ci, cj, ck)
	v += sx * 0.5 * (src.At(ci+1, cj, ck) - src.At(ci-1, cj, ck))
	v += sy * 0.5 * (src.At(ci, cj+1, ck) - src.At(ci, cj-1, ck))
	v += sz * 0.5 * (src.At(ci, cj, ck+1) - src.At(ci, cj, ck-1))
	return v
}

// PredictBlock runs PredictChild over every active buffer of the parent
// block into the matching buffer of the child block, independently per field
// and role.
func PredictBlock(parent, child *block.Block, octant int) {
	parentBufs := collectBuffers(parent)
	childBufs := collectBuffers(child)
	for i := range parentBufs {
		PredictChild(parentBufs[i], childBufs[i], octant)
	}
}

func collectBuffers(b *block.Block) []block.Buffer {
	bufs := make([]block.Buffer, 0, block.ActiveBufferCount())
	b.ActiveBuffers(func(buf block.Buffer) { bufs = append(bufs, buf) })
	return bufs
}
