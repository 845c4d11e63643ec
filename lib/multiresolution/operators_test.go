package multiresolution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ludgerpaehler/ALPACA/lib/block"
	"github.com/ludgerpaehler/ALPACA/lib/dims"
)

// linear fills a buffer with a field that is linear in the cell index.
func linear(a, bx, by, bz float64) block.Buffer {
	buf := block.NewBuffer()
	for k := 0; k < dims.TotalCells; k++ {
		for j := 0; j < dims.TotalCells; j++ {
			for i := 0; i < dims.TotalCells; i++ {
				buf.Set(i, j, k, a+bx*float64(i)+by*float64(j)+bz*float64(k))
			}
		}
	}
	return buf
}

func TestRestrictOctantOfConstant(t *testing.T) {
	child := block.NewBuffer()
	child.Fill(4.25)
	out := make([]float64, OctantCellCount)
	RestrictOctant(child, out)
	for i := range out {
		require.Equal(t, 4.25, out[i])
	}
}

func TestRestrictOctantRejectsWrongExtent(t *testing.T) {
	require.Panics(t, func() { RestrictOctant(block.NewBuffer(), make([]float64, 7)) })
	require.Panics(t, func() {
		InstallOctant(block.NewBuffer(), 0, make([]float64, 7))
	})
}

func TestPredictChildReproducesLinearFields(t *testing.T) {
	// Trilinear prediction must reproduce a linear parent field exactly:
	// the fine cell centers sit a quarter parent cell off the coarse
	// centers, and the central-difference slope of a linear field is its
	// true slope.
	parent := linear(1.0, 0.5, -0.25, 2.0)
	child := block.NewBuffer()

	// coord is the parent-grid position a fine cell interpolates at: its
	// parent cell index shifted a quarter cell toward the fine center.
	coord := func(i, offset int) float64 {
		p := offset + (i-dims.InteriorLow)/2
		if (i-dims.InteriorLow)&1 == 0 {
			return float64(p) - 0.25
		}
		return float64(p) + 0.25
	}

	for octant := 0; octant < 8; octant++ {
		PredictChild(parent, child, octant)
		ox := dims.InteriorLow + (octant&1)*OctantCells
		oy := dims.InteriorLow + (octant>>1&1)*OctantCells
		oz := dims.InteriorLow + (octant>>2&1)*OctantCells
		for k := dims.InteriorLow; k < dims.InteriorHigh; k++ {
			for j := dims.InteriorLow; j < dims.InteriorHigh; j++ {
				for i := dims.InteriorLow; i < dims.InteriorHigh; i++ {
					want := 1.0 + 0.5*coord(i, ox) - 0.25*coord(j, oy) +
						2.0*coord(k, oz)
					assert.InDelta(t, want, child.At(i, j, k), 1e-12,
						"octant %d cell (%d,%d,%d)", octant, i, j, k)
				}
			}
		}
	}
}

func TestPredictThenRestrictIsIdentityForConstants(t *testing.T) {
	// The conservation round trip: prediction of a constant followed by
	// restriction must give back the constant bit-for-bit.
	parent := block.NewBuffer()
	parent.Fill(7.75)

	restricted := block.NewBuffer()
	scratch := make([]float64, OctantCellCount)
	for octant := 0; octant < 8; octant++ {
		child := block.NewBuffer()
		PredictChild(parent, child, octant)
		RestrictOctant(child, scratch)
		InstallOctant(restricted, octant, scratch)
	}

	for k := dims.InteriorLow; k < dims.InteriorHigh; k++ {
		for j := dims.InteriorLow; j < dims.InteriorHigh; j++ {
			for i := dims.InteriorLow; i < dims.InteriorHigh; i++ {
				require.Equal(t, 7.75, restricted.At(i, j, k),
					"cell (%d,%d,%d)", i, j, k)
			}
		}
	}
}

func TestPredictBlockCoversEveryActiveBuffer(t *testing.T) {
	parent := block.New()
	child := block.New()
	parent.ActiveBuffers(func(b block.Buffer) { b.Fill(3.0) })

	PredictBlock(parent, child, 5)
	child.ActiveBuffers(func(b block.Buffer) {
		assert.Equal(t, 3.0, b.At(dims.InteriorLow, dims.InteriorLow, dims.InteriorLow))
		assert.Equal(t, 3.0, b.At(dims.InteriorHigh-1, dims.InteriorHigh-1,
			dims.InteriorHigh-1))
	})
}
