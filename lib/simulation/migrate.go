package simulation

/* migrate.go implements re-partitioning and the blocking block migration
that follows it. Downstream flux computation depends on complete block data,
so migration is not overlapped with anything: the cycle waits until every
moved block is installed at its new owner. Payloads are zstd-compressed per
block; smooth field data compresses well and the migration volume after a
large topology change is the dominant communication cost of a cycle. */

import (
	"fmt"

	"github.com/DataDog/zstd"

	"github.com/ludgerpaehler/ALPACA/lib/block"
	"github.com/ludgerpaehler/ALPACA/lib/comm"
	"github.com/ludgerpaehler/ALPACA/lib/dims"
	gerr "github.com/ludgerpaehler/ALPACA/lib/error"
	"github.com/ludgerpaehler/ALPACA/lib/loadbalance"
	"github.com/ludgerpaehler/ALPACA/lib/topology"
)

// rebalance recomputes the contiguous assignment for the current leaf set
// and migrates every block whose owner changed.
func (r *Rank) rebalance() error {
	me := r.comm.Rank()
	leaves := r.tree.Leaves()
	next := loadbalance.Partition(leaves, r.comm.Size())
	moves := loadbalance.Moves(r.owners, next)

	outgoing := make([][]byte, r.comm.Size())
	type arrival struct{ move loadbalance.Move }
	expected := make([][]arrival, r.comm.Size())

	for _, m := range moves {
		switch {
		case m.From == me:
			payload, err := compressBlock(r.mustOwnedBlock(m.Leaf))
			if err != nil {
				return fmt.Errorf("serializing %v for migration: %w", m.Leaf, err)
			}
			header := comm.AppendUint64s(nil, []uint64{uint64(len(payload))})
			outgoing[m.To] = append(outgoing[m.To], header...)
			outgoing[m.To] = append(outgoing[m.To], payload...)
			// The sender's copy is gone the moment the message is built;
			// exactly one rank holds a block's data at any time.
			r.tree.MustNode(m.Leaf).SetBlock(nil)
		case m.To == me:
			expected[m.From] = append(expected[m.From], arrival{m})
		}
	}

	incoming, err := r.comm.Alltoall(outgoing)
	if err != nil {
		return fmt.Errorf("migrating blocks: %w", err)
	}

	for src := 0; src < r.comm.Size(); src++ {
		buf := incoming[src]
		for _, a := range expected[src] {
			header, rest, err := comm.Uint64s(buf, 1)
			if err != nil {
				gerr.Internal("Migration message from rank %d is truncated: %v.",
					src, err)
			}
			n := int(header[0])
			if len(rest) < n {
				gerr.Internal(
					"Migration message from rank %d is short: block %v needs %d bytes, have %d.",
					src, a.move.Leaf, n, len(rest))
			}
			blk, err := decompressBlock(rest[:n])
			if err != nil {
				gerr.Internal("Migrated block %v from rank %d is malformed: %v.",
					a.move.Leaf, src, err)
			}
			r.tree.MustNode(a.move.Leaf).SetBlock(blk)
			buf = rest[n:]
		}
		if len(buf) != 0 {
			gerr.Internal(
				"Migration message from rank %d carries %d unexpected trailing bytes.",
				src, len(buf))
		}
	}

	r.assign = next
	r.owners = make(map[topology.ID]int, len(leaves))
	for _, id := range leaves {
		r.owners[id] = next.Owner(id)
	}
	return nil
}

// compressBlock serializes every active buffer in the fixed traversal order
// and compresses the result.
func compressBlock(b *block.Block) ([]byte, error) {
	raw := make([]byte, 0, block.ActiveBufferCount()*dims.CellsPerBuffer*8)
	b.ActiveBuffers(func(buf block.Buffer) {
		raw = comm.AppendFloat64s(raw, buf)
	})
	return zstd.Compress(nil, raw)
}

// decompressBlock rebuilds a block from a compressed migration payload.
func decompressBlock(payload []byte) (*block.Block, error) {
	raw, err := zstd.Decompress(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("decompressing block payload: %w", err)
	}
	want := block.ActiveBufferCount() * dims.CellsPerBuffer * 8
	if len(raw) != want {
		return nil, fmt.Errorf("block payload holds %d bytes, want %d",
			len(raw), want)
	}
	b := block.New()
	b.ActiveBuffers(func(buf block.Buffer) {
		if err != nil {
			return
		}
		raw, err = comm.DecodeFloat64sInto(buf, raw)
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}
