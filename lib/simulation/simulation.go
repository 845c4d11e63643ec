/*package simulation drives the mesh engine's per-cycle protocol on every
worker rank: gather detail coefficients, agree on refinement decisions,
mutate the forest, re-partition and migrate blocks, and exchange halos.
Every rank holds a full replica of the forest topology but field data only
for the leaves it owns; every step that changes topology or ownership is
derived from gathered data by pure functions, so all replicas stay
identical without ever being compared.*/
package simulation

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/ludgerpaehler/ALPACA/lib/block"
	"github.com/ludgerpaehler/ALPACA/lib/comm"
	"github.com/ludgerpaehler/ALPACA/lib/config"
	gerr "github.com/ludgerpaehler/ALPACA/lib/error"
	"github.com/ludgerpaehler/ALPACA/lib/halo"
	"github.com/ludgerpaehler/ALPACA/lib/loadbalance"
	"github.com/ludgerpaehler/ALPACA/lib/multiresolution"
	"github.com/ludgerpaehler/ALPACA/lib/mutator"
	"github.com/ludgerpaehler/ALPACA/lib/topology"
)

// InitialCondition produces the initial field data of one level-zero block.
// It must be a pure function of the ID so that any rank could have produced
// the same block.
type InitialCondition func(t *topology.Tree, id topology.ID) *block.Block

// Rank is one worker process of the simulation. Exactly one goroutine
// drives a Rank; the only cross-rank interaction is through the
// communicator.
type Rank struct {
	cfg  config.Config
	comm *comm.Comm
	tree *topology.Tree

	analyzer  multiresolution.Analyzer
	exchanger *halo.Exchanger
	assign    *loadbalance.Assignment
	owners    map[topology.ID]int

	threads int
	log     *slog.Logger
}

// Launch builds the communicator group and one Rank per worker. All ranks
// share one run ID on their loggers so a coordinated abort can be traced
// across workers.
func Launch(cfg config.Config, initial InitialCondition, logger *slog.Logger) ([]*Rank, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	runID := uuid.NewString()

	comms := comm.NewGroup(cfg.Ranks)
	ranks := make([]*Rank, cfg.Ranks)
	for i := range ranks {
		r, err := newRank(cfg, comms[i], initial,
			logger.With("run", runID, "rank", i))
		if err != nil {
			return nil, err
		}
		ranks[i] = r
	}
	return ranks, nil
}

func newRank(
	cfg config.Config, c *comm.Comm, initial InitialCondition, log *slog.Logger,
) (*Rank, error) {
	t, err := topology.New(
		cfg.BlockCounts[0], cfg.BlockCounts[1], cfg.BlockCounts[2],
		cfg.CellSize, cfg.MaximumLevel)
	if err != nil {
		return nil, err
	}

	exponent := cfg.ThresholdExponent
	if exponent == 0 {
		exponent = 1
	}
	coarsen := cfg.CoarsenFactor
	if coarsen == 0 {
		coarsen = 0.125
	}
	threads := cfg.Threads
	if threads < 1 {
		threads = 1
	}

	r := &Rank{
		cfg:  cfg,
		comm: c,
		tree: t,
		analyzer: multiresolution.Analyzer{
			MaxLevel:         cfg.MaximumLevel,
			ReferenceLevel:   cfg.ReferenceLevel,
			ReferenceEpsilon: cfg.EpsilonReference,
			Exponent:         exponent,
			CoarsenFactor:    coarsen,
		},
		threads: threads,
		log:     log,
	}
	r.exchanger = halo.New(t, c)

	leaves := t.Leaves()
	r.assign = loadbalance.Partition(leaves, c.Size())
	r.owners = make(map[topology.ID]int, len(leaves))
	for _, id := range leaves {
		r.owners[id] = r.assign.Owner(id)
	}
	for _, id := range r.assign.RangeOf(c.Rank()) {
		var blk *block.Block
		if initial != nil {
			blk = initial(t, id)
		} else {
			blk = block.New()
		}
		t.MustNode(id).SetBlock(blk)
	}
	return r, nil
}

// Tree returns the rank's forest replica.
func (r *Rank) Tree() *topology.Tree { return r.tree }

// Assignment returns the current leaf-to-rank assignment.
func (r *Rank) Assignment() *loadbalance.Assignment { return r.assign }

// Comm returns the rank's communicator endpoint.
func (r *Rank) Comm() *comm.Comm { return r.comm }

// guard converts a fail-fast invariant panic into a coordinated abort: the
// communicator is poisoned first, so every other rank unblocks with an
// error instead of waiting in a collective forever.
func (r *Rank) guard(step string, f func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			abortErr := fmt.Errorf("rank %d failed during %s: %v",
				r.comm.Rank(), step, rec)
			if ie, ok := rec.(*gerr.InternalError); ok {
				abortErr = fmt.Errorf("rank %d failed during %s: %w",
					r.comm.Rank(), step, ie)
			}
			r.comm.Abort(abortErr)
			r.log.Error("aborting all workers", "step", step, "cause", abortErr)
			err = abortErr
		}
	}()
	return f()
}

// RunRefinementCycle executes one full refinement cycle: detail gathering,
// forest-wide decision marking, topology mutation, re-partitioning, and
// block migration, in that order. The returned changes are identical on
// every rank. The cycle does not touch ghost layers; callers run
// RunHaloExchange before any computation that reads them.
func (r *Rank) RunRefinementCycle() (mutator.Changes, error) {
	var changes mutator.Changes
	err := r.guard("refinement cycle", func() error {
		details, err := r.gatherDetails()
		if err != nil {
			return err
		}
		marks := r.analyzer.Mark(r.tree, details)

		asm, err := r.assembleCoarsenedParents(marks)
		if err != nil {
			return err
		}
		changes = mutator.Apply(r.tree, marks, asm)
		r.applyOwnership(changes, asm)

		if err := r.rebalance(); err != nil {
			return err
		}
		if !changes.Empty() {
			r.log.Debug("topology changed",
				"refined", len(changes.Refined),
				"coarsened", len(changes.Coarsened),
				"leaves", r.tree.LeafCount())
		}
		return nil
	})
	return changes, err
}

// RunHaloExchange makes every owned leaf's ghost layer consistent. It must
// complete before any flux or update collaborator reads neighbor data.
func (r *Rank) RunHaloExchange() error {
	return r.guard("halo exchange", func() error {
		return r.exchanger.Exchange(r.assign)
	})
}

// gatherDetails computes the detail coefficient of every owned leaf and
// gathers the forest-wide map. Per-block computation is pure, so the
// bounded thread parallelism cannot perturb the gathered values.
func (r *Rank) gatherDetails() (map[topology.ID]float64, error) {
	owned := r.assign.RangeOf(r.comm.Rank())
	details := make([]float64, len(owned))

	// Residency is checked before fanning out: a failed invariant must panic
	// on this goroutine, where the cycle's recover can turn it into a
	// coordinated abort.
	blocks := make([]*block.Block, len(owned))
	for i, id := range owned {
		blocks[i] = r.mustOwnedBlock(id)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, r.threads)
	for i := range owned {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			details[i] = multiresolution.DetailCoefficient(blocks[i])
		}(i)
	}
	wg.Wait()

	payload := []byte{}
	payload = comm.AppendUint64s(payload, []uint64{uint64(len(owned))})
	ids := make([]uint64, len(owned))
	for i, id := range owned {
		ids[i] = uint64(id)
	}
	payload = comm.AppendUint64s(payload, ids)
	payload = comm.AppendFloat64s(payload, details)

	gathered, err := r.comm.Allgather(payload)
	if err != nil {
		return nil, fmt.Errorf("gathering detail coefficients: %w", err)
	}

	all := make(map[topology.ID]float64, r.tree.LeafCount())
	buf := gathered
	for len(buf) > 0 {
		header, rest, err := comm.Uint64s(buf, 1)
		if err != nil {
			return nil, err
		}
		n := int(header[0])
		rankIDs, rest, err := comm.Uint64s(rest, n)
		if err != nil {
			return nil, err
		}
		rankDetails, rest, err := comm.Float64s(rest, n)
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			all[topology.ID(rankIDs[i])] = rankDetails[i]
		}
		buf = rest
	}
	return all, nil
}

func (r *Rank) mustOwnedBlock(id topology.ID) *block.Block {
	n := r.tree.MustNode(id)
	if !n.HasBlock() {
		gerr.Internal("Rank %d owns %v but holds no data for it.",
			r.comm.Rank(), id)
	}
	return n.Block()
}

// applyOwnership patches the interim owner map after mutation: children
// inherit their parent's owner, a coarsened parent lands on its group
// leader. The canonical contiguous assignment is recomputed right after by
// rebalance; this map only has to be correct long enough to source the
// migration.
func (r *Rank) applyOwnership(changes mutator.Changes, asm *groupAssembler) {
	for _, id := range changes.Refined {
		owner := r.owners[id]
		delete(r.owners, id)
		for _, c := range id.Children() {
			r.owners[c] = owner
		}
	}
	for _, parent := range changes.Coarsened {
		for _, c := range parent.Children() {
			delete(r.owners, c)
		}
		r.owners[parent] = asm.leaders[parent]
	}
}
