/*package block implements the per-node field storage of the mesh. A block is
a fixed-extent group of 3-D cell buffers, split by integration role (Base,
RightHandSide, Reinitialized, Initial) and by physical meaning (conservative
state, interface description, interface parameters). Which buffers exist is
decided once by the switches in lib/dims; asking for a buffer that does not
exist is a programming error and fails fast.*/
package block

import (
	"github.com/ludgerpaehler/ALPACA/lib/dims"
	gerr "github.com/ludgerpaehler/ALPACA/lib/error"
)

// Role names the integration stage a buffer belongs to.
type Role int

const (
	// Base holds the last accepted, fully consistent state. It is the only
	// role neighbors ever read.
	Base Role = iota
	// RightHandSide accumulates the current sub-step's update.
	RightHandSide
	// Reinitialized holds the interface description after a correction pass.
	// It exists only for interface fields and only when the levelset model
	// is active.
	Reinitialized
	// Initial snapshots the state at the start of an integration cycle.
	Initial

	roleCount
)

func (r Role) String() string {
	switch r {
	case Base:
		return "base"
	case RightHandSide:
		return "right-hand side"
	case Reinitialized:
		return "reinitialized"
	case Initial:
		return "initial"
	}
	return "unknown"
}

// Conservative names one conserved state variable.
type Conservative int

const (
	Mass Conservative = iota
	MomentumX
	MomentumY
	MomentumZ
	Energy

	ConservativeCount
)

// InterfaceField names one interface-description variable. The levelset is
// the primary field; the volume fraction is its companion.
type InterfaceField int

const (
	Levelset InterfaceField = iota
	VolumeFraction

	InterfaceFieldCount
)

// Parameter names one interface-coupled model parameter.
type Parameter int

const (
	SurfaceTensionCoefficient Parameter = iota

	ParameterCount
)

// Buffer is one flat 3-D cell array of dims.TotalCells extent per axis,
// halo included. Index with dims.Index.
type Buffer []float64

// NewBuffer allocates a zeroed buffer.
func NewBuffer() Buffer { return make(Buffer, dims.CellsPerBuffer) }

// At returns the value at cell (i, j, k).
func (b Buffer) At(i, j, k int) float64 { return b[dims.Index(i, j, k)] }

// Set writes the value at cell (i, j, k).
func (b Buffer) Set(i, j, k int, v float64) { b[dims.Index(i, j, k)] = v }

// Fill sets every cell of the buffer to v.
func (b Buffer) Fill(v float64) {
	for i := range b {
		b[i] = v
	}
}

// CopyFrom copies src into b. The two buffers must have the block extent.
func (b Buffer) CopyFrom(src Buffer) {
	if len(b) != len(src) {
		gerr.Internal("Buffer copy with mismatched extents %d and %d.",
			len(b), len(src))
	}
	copy(b, src)
}

// Block owns all field buffers of one mesh node. A block never references
// other blocks; neighbor relationships live in the topology.
type Block struct {
	conservatives [roleCount][ConservativeCount]Buffer
	interfaces    [roleCount][InterfaceFieldCount]Buffer
	parameters    [ParameterCount]Buffer
}

// New creates a block with every active buffer allocated and zeroed.
func New() *Block {
	b := &Block{}
	for _, r := range []Role{Base, RightHandSide, Initial} {
		for f := Conservative(0); f < ConservativeCount; f++ {
			b.conservatives[r][f] = NewBuffer()
		}
	}
	if dims.LevelsetActive {
		for r := Role(0); r < roleCount; r++ {
			for f := InterfaceField(0); f < InterfaceFieldCount; f++ {
				b.interfaces[r][f] = NewBuffer()
			}
		}
	}
	if dims.InterfaceParameterModelActive {
		for p := Parameter(0); p < ParameterCount; p++ {
			b.parameters[p] = NewBuffer()
		}
	}
	return b
}

// NewFromLevelsetField creates a block for an already computed levelset
// field. The Base buffers are zeroed, the right-hand side and reinitialized
// buffers receive a copy of the field with a zeroed volume fraction, and the
// initial buffers are zeroed.
func NewFromLevelsetField(levelset Buffer) *Block {
	b := New()
	b.InterfaceBuffer(RightHandSide, Levelset).CopyFrom(levelset)
	b.InterfaceBuffer(Reinitialized, Levelset).CopyFrom(levelset)
	return b
}

// NewFromLevelsetScalar creates a block holding a homogeneous levelset value.
// In the Base buffer only the volume fraction is set: one inside the positive
// phase, zero otherwise. The right-hand side and reinitialized levelsets are
// set to the scalar with a zeroed volume fraction, and the initial buffers
// are zeroed.
func NewFromLevelsetScalar(levelset float64) *Block {
	b := New()
	if levelset > 0 {
		b.InterfaceBuffer(Base, VolumeFraction).Fill(1.0)
	}
	b.InterfaceBuffer(RightHandSide, Levelset).Fill(levelset)
	b.InterfaceBuffer(Reinitialized, Levelset).Fill(levelset)
	return b
}

// ConservativeBuffer returns the buffer of one conserved variable in one
// role. Conservative fields have no Reinitialized role; requesting it is a
// fatal precondition violation.
func (b *Block) ConservativeBuffer(r Role, f Conservative) Buffer {
	if r == Reinitialized {
		gerr.Internal("Conservative field %d has no %s buffer.", f, r)
	}
	if r < 0 || r >= roleCount || f < 0 || f >= ConservativeCount {
		gerr.Internal("Invalid conservative buffer request: role %d, field %d.", r, f)
	}
	return b.conservatives[r][f]
}

// InterfaceBuffer returns the buffer of one interface-description field in
// one role. It is a fatal precondition violation when the levelset model is
// inactive.
func (b *Block) InterfaceBuffer(r Role, f InterfaceField) Buffer {
	if !dims.LevelsetActive {
		gerr.Internal("Interface buffer requested, but the levelset model is inactive.")
	}
	if r < 0 || r >= roleCount || f < 0 || f >= InterfaceFieldCount {
		gerr.Internal("Invalid interface buffer request: role %d, field %d.", r, f)
	}
	return b.interfaces[r][f]
}

// ParameterBuffer returns the buffer of one interface parameter. It is a
// fatal precondition violation when the parameter model is inactive.
func (b *Block) ParameterBuffer(p Parameter) Buffer {
	if !dims.InterfaceParameterModelActive {
		gerr.Internal("Parameter buffer requested, but the interface parameter model is inactive.")
	}
	if p < 0 || p >= ParameterCount {
		gerr.Internal("Invalid parameter buffer request: parameter %d.", p)
	}
	return b.parameters[p]
}

// ActiveBuffers calls visit for every buffer the current configuration
// allocates, in a fixed order that is identical on every process. Migration
// and coarsening serialize blocks through this traversal.
func (b *Block) ActiveBuffers(visit func(Buffer)) {
	for _, r := range []Role{Base, RightHandSide, Initial} {
		for f := Conservative(0); f < ConservativeCount; f++ {
			visit(b.conservatives[r][f])
		}
	}
	if dims.LevelsetActive {
		for r := Role(0); r < roleCount; r++ {
			for f := InterfaceField(0); f < InterfaceFieldCount; f++ {
				visit(b.interfaces[r][f])
			}
		}
	}
	if dims.InterfaceParameterModelActive {
		for p := Parameter(0); p < ParameterCount; p++ {
			visit(b.parameters[p])
		}
	}
}

// ActiveBufferCount returns how many buffers ActiveBuffers visits.
func ActiveBufferCount() int {
	n := 3 * int(ConservativeCount)
	if dims.LevelsetActive {
		n += int(roleCount) * int(InterfaceFieldCount)
	}
	if dims.InterfaceParameterModelActive {
		n += int(ParameterCount)
	}
	return n
}
