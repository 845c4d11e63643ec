package multiresolution

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/ludgerpaehler/ALPACA/lib/block"
	"github.com/ludgerpaehler/ALPACA/lib/dims"
)

// DetailCoefficient measures how poorly a block's Base state is represented
// on its virtual parent level. The interior is restricted to parent-level
// cells, predicted back, and the largest relative pointwise deviation over
// all analyzed fields is returned. A spatially constant field has detail
// exactly zero, so uniform regions always coarsen.
//
// The computation only touches the block's own interior, never its halo, and
// walks fields in a fixed order, so every process computes bit-identical
// details for identical Base data.
func DetailCoefficient(b *block.Block) float64 {
	detail := 0.0
	for f := block.Conservative(0); f < block.ConservativeCount; f++ {
		detail = math.Max(detail, bufferDetail(b.ConservativeBuffer(block.Base, f)))
	}
	if dims.LevelsetActive {
		for f := block.InterfaceField(0); f < block.InterfaceFieldCount; f++ {
			detail = math.Max(detail, bufferDetail(b.InterfaceBuffer(block.Base, f)))
		}
	}
	return detail
}

// bufferDetail computes the relative detail of one field buffer.
func bufferDetail(buf block.Buffer) float64 {
	coarse := make([]float64, OctantCellCount*8)
	restrictInterior(buf, coarse)

	diff := make([]float64, 0, dims.InternalCells*dims.InternalCells*dims.InternalCells)
	values := make([]float64, 0, cap(diff))
	for k := dims.InteriorLow; k < dims.InteriorHigh; k++ {
		for j := dims.InteriorLow; j < dims.InteriorHigh; j++ {
			for i := dims.InteriorLow; i < dims.InteriorHigh; i++ {
				v := buf.At(i, j, k)
				p := predictFromCoarse(coarse, i, j, k)
				diff = append(diff, math.Abs(v-p))
				values = append(values, math.Abs(v))
			}
		}
	}

	scale := floats.Norm(values, math.Inf(1))
	if scale == 0 {
		return 0
	}
	return floats.Norm(diff, math.Inf(1)) / scale
}

// coarseCells is the per-axis extent of the virtual parent representation of
// one block interior.
const coarseCells = dims.InternalCells / 2

// restrictInterior averages the whole block interior onto the virtual parent
// level, x-fastest.
func restrictInterior(buf block.Buffer, out []float64) {
	n := 0
	for k := 0; k < coarseCells; k++ {
		for j := 0; j < coarseCells; j++ {
			for i := 0; i < coarseCells; i++ {
				ci := dims.InteriorLow + 2*i
				cj := dims.InteriorLow + 2*j
				ck := dims.InteriorLow + 2*k
				sum := 0.0
				for dz := 0; dz < 2; dz++ {
					for dy := 0; dy < 2; dy++ {
						for dx := 0; dx < 2; dx++ {
							sum += buf.At(ci+dx, cj+dy, ck+dz)
						}
					}
				}
				out[n] = sum / 8.0
				n++
			}
		}
	}
}

// predictFromCoarse evaluates the trilinear prediction of the virtual parent
// representation at a fine interior cell. Slopes degrade to zero at the
// border of the coarse patch, where no neighbor cell is available; a
// constant field therefore still predicts exactly.
func predictFromCoarse(coarse []float64, i, j, k int) float64 {
	fi, fj, fk := i-dims.InteriorLow, j-dims.InteriorLow, k-dims.InteriorLow
	ci, cj, ck := fi/2, fj/2, fk/2

	at := func(x, y, z int) float64 {
		return coarse[x+coarseCells*(y+coarseCells*z)]
	}
	slope := func(x, y, z, axis int) float64 {
		c := [3]int{x, y, z}
		lo, hi := c, c
		lo[axis]--
		hi[axis]++
		if lo[axis] < 0 || hi[axis] >= coarseCells {
			return 0
		}
		return 0.5 * (at(hi[0], hi[1], hi[2]) - at(lo[0], lo[1], lo[2]))
	}

	shift := func(f int) float64 {
		if f&1 == 0 {
			return -0.25
		}
		return 0.25
	}

	v := at(ci, cj, ck)
	v += shift(fi) * slope(ci, cj, ck, 0)
	v += shift(fj) * slope(ci, cj, ck, 1)
	v += shift(fk) * slope(ci, cj, ck, 2)
	return v
}
