/*package dims holds the compile-time geometry of a computational block and
the feature switches that decide which field buffers exist. Everything here is
a constant: a block's spatial extent and the set of active fields are fixed
when the binary is built, never per-instance.*/
package dims

const (
	// InternalCells is the number of cells per axis a block updates itself.
	InternalCells = 16
	// HaloWidth is the number of ghost cells padded onto each side of a
	// block. It must be wide enough for the widest reconstruction stencil
	// and must divide InternalCells/2 so that coarse-fine halos line up.
	HaloWidth = 4
	// TotalCells is the full per-axis extent of every buffer, halo included.
	TotalCells = InternalCells + 2*HaloWidth

	// CellsPerBuffer is the flat length of one field buffer.
	CellsPerBuffer = TotalCells * TotalCells * TotalCells
)

// Feature switches. A buffer whose switch is off does not exist, and asking
// a block for it is a programming error, not a recoverable condition.
const (
	// LevelsetActive enables the interface-description fields (levelset and
	// volume fraction) and the Reinitialized buffer role.
	LevelsetActive = true
	// InterfaceParameterModelActive enables the interface-parameter buffer
	// (e.g. a surface-tension coefficient field).
	InterfaceParameterModelActive = false
)

// Index converts an (i, j, k) cell coordinate into the flat buffer index.
// i is the fastest-varying axis.
func Index(i, j, k int) int {
	return i + TotalCells*(j+TotalCells*k)
}

// InteriorLow and InteriorHigh bound the internal cell range [Low, High) on
// every axis.
const (
	InteriorLow  = HaloWidth
	InteriorHigh = HaloWidth + InternalCells
)
