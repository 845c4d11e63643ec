package main

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"runtime"
	"sync"

	"github.com/ludgerpaehler/ALPACA/lib/block"
	"github.com/ludgerpaehler/ALPACA/lib/config"
	"github.com/ludgerpaehler/ALPACA/lib/dims"
	gerr "github.com/ludgerpaehler/ALPACA/lib/error"
	"github.com/ludgerpaehler/ALPACA/lib/simulation"
	"github.com/ludgerpaehler/ALPACA/lib/topology"
)

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(1)
	}
	mode := os.Args[1]

	switch mode {
	case "help":
		printHelp()
	case "check":
		cfg := loadConfig()
		if err := cfg.Validate(); err != nil {
			gerr.External("Configuration is invalid: %v", err)
		}
		fmt.Println("No errors detected.")
	case "run":
		Run(loadConfig())
	default:
		gerr.External(
			"You attempted to run alpaca in the mode '%s', but the only valid "+
				"modes are 'help', 'check', and 'run'.", mode)
	}
}

func printHelp() {
	fmt.Println(`Usage: alpaca <mode> <config file>
Modes:
  help    print this message
  check   validate the configuration file
  run     run the configured number of refinement cycles`)
}

func loadConfig() config.Config {
	if len(os.Args) < 3 {
		gerr.External("The '%s' mode needs a configuration file.", os.Args[1])
	}
	cfg, err := config.Load(os.Args[2])
	if err != nil {
		gerr.External("%v", err)
	}
	return cfg
}

// setThreads bounds the process to the configured thread count. Asking for
// more threads than the machine has is a configuration error, not something
// to silently clamp.
func setThreads(n int) {
	if n > runtime.NumCPU() {
		gerr.External(
			"%d threads requested, but your system only has %d cores.",
			n, runtime.NumCPU())
	}
	if n > 0 {
		runtime.GOMAXPROCS(n)
	}
}

// Run drives every worker rank through the configured refinement cycles
// against a spherical two-phase initial condition. The real simulation loop
// interleaves flux and time-integration collaborators between the cycle and
// the exchange; this standalone driver exercises the mesh engine alone.
func Run(cfg config.Config) {
	setThreads(cfg.Threads)
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ranks, err := simulation.Launch(cfg, sphereInitialCondition(cfg), logger)
	if err != nil {
		gerr.External("Could not launch the simulation: %v", err)
	}

	var wg sync.WaitGroup
	for _, r := range ranks {
		wg.Add(1)
		go func(r *simulation.Rank) {
			defer wg.Done()
			for cycle := 0; cycle < cfg.Cycles; cycle++ {
				if _, err := r.RunRefinementCycle(); err != nil {
					return
				}
				if err := r.RunHaloExchange(); err != nil {
					return
				}
			}
		}(r)
	}
	wg.Wait()

	if err := ranks[0].Comm().Err(); err != nil {
		gerr.External("Simulation aborted: %v", err)
	}
	logger.Info("finished",
		"cycles", cfg.Cycles, "leaves", ranks[0].Tree().LeafCount())
}

// sphereInitialCondition fills level-zero blocks with the signed distance to
// a sphere centered in the domain, the standard two-phase droplet setup.
func sphereInitialCondition(cfg config.Config) simulation.InitialCondition {
	blockLen := cfg.CellSize * dims.InternalCells
	cx := 0.5 * blockLen * float64(cfg.BlockCounts[0])
	cy := 0.5 * blockLen * float64(cfg.BlockCounts[1])
	cz := 0.5 * blockLen * float64(cfg.BlockCounts[2])
	radius := 0.25 * blockLen * float64(cfg.BlockCounts[0])

	return func(t *topology.Tree, id topology.ID) *block.Block {
		ox, oy, oz := t.NodeOrigin(id)
		h := t.CellSizeOnLevel(id.Level())

		levelset := block.NewBuffer()
		for k := 0; k < dims.TotalCells; k++ {
			for j := 0; j < dims.TotalCells; j++ {
				for i := 0; i < dims.TotalCells; i++ {
					x := ox + h*(float64(i-dims.InteriorLow)+0.5)
					y := oy + h*(float64(j-dims.InteriorLow)+0.5)
					z := oz + h*(float64(k-dims.InteriorLow)+0.5)
					d := math.Sqrt((x-cx)*(x-cx) + (y-cy)*(y-cy) + (z-cz)*(z-cz))
					levelset.Set(i, j, k, d-radius)
				}
			}
		}

		blk := block.NewFromLevelsetField(levelset)
		// The accepted state starts from the reinitialized field, the same
		// promotion the outer loop performs after a correction pass.
		blk.InterfaceBuffer(block.Base, block.Levelset).CopyFrom(levelset)
		blk.ConservativeBuffer(block.Base, block.Mass).Fill(1.0)
		blk.ConservativeBuffer(block.Base, block.Energy).Fill(2.5)
		return blk
	}
}
