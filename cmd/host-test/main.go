package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/c2h5oh/datasize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dubeyko/memory-pool-tools/internal/logging"
	"github.com/dubeyko/memory-pool-tools/internal/xcmd"
	"github.com/dubeyko/memory-pool-tools/internal/xmmap"
	"github.com/dubeyko/memory-pool-tools/mempool"
)

// version is populated via build flags when packaging official binaries.
var version = "SELFBUILD"

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	// ConfigPath is the path to an optional YAML configuration file;
	// flags override its values.
	ConfigPath string

	InputFile  string
	OutputFile string

	Threads     int
	PortionSize string

	Granularity     int
	RecordCapacity  int
	PortionCapacity int
	PortionCount    int

	KeyMask      uint64
	ValueMask    uint64
	ConditionMin uint64
	ConditionMax uint64

	Algorithm string
	Debug     bool
}

var rootCmd = &cobra.Command{
	Use:     "host-test",
	Short:   "evaluate record-level algorithms over a memory-mapped dataset",
	Version: version,
	RunE: func(rawCmd *cobra.Command, args []string) error {
		rawCmd.SilenceUsage = true
		err := run(rawCmd, cmd)
		if errors.Is(err, xcmd.Interrupted{}) {
			return nil
		}
		return err
	},
}

func init() {
	flags := rootCmd.Flags()

	flags.StringVarP(&cmd.ConfigPath, "config", "c", "", "path to the YAML configuration file")
	flags.StringVarP(&cmd.InputFile, "input-file", "i", "", "input dataset file")
	flags.StringVarP(&cmd.OutputFile, "output-file", "o", "", "output dataset file")
	flags.IntVarP(&cmd.Threads, "threads", "t", 0, "number of worker threads (one portion each)")
	flags.StringVar(&cmd.PortionSize, "portion-size", "", "per-thread portion size in bytes (accepts suffixes, e.g. 64KB)")
	flags.IntVarP(&cmd.Granularity, "granularity", "I", 1, "item size in bytes, a power of two in [1, 1024]")
	flags.IntVarP(&cmd.RecordCapacity, "record-capacity", "r", 1, "number of items in one record")
	flags.IntVar(&cmd.PortionCapacity, "portion-capacity", 0, "maximum number of records in one portion")
	flags.IntVar(&cmd.PortionCount, "portion-count", 0, "number of live records in one portion")
	flags.Uint64VarP(&cmd.KeyMask, "key-mask", "k", 0, "bitmap of record items forming the key")
	flags.Uint64VarP(&cmd.ValueMask, "value-mask", "v", 0, "bitmap of record items forming the value")
	flags.Uint64Var(&cmd.ConditionMin, "condition-min", 0, "lower bound of the SELECT key range")
	flags.Uint64Var(&cmd.ConditionMax, "condition-max", math.MaxUint64, "upper bound of the SELECT key range (excluded)")
	flags.StringVarP(&cmd.Algorithm, "algorithm", "a", "", "algorithm: KEY-VALUE, SORT, SELECT or TOTAL")
	flags.BoolVarP(&cmd.Debug, "debug", "d", false, "show debug output")

	rootCmd.MarkFlagRequired("input-file")
	rootCmd.MarkFlagRequired("output-file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

// buildConfig merges the configuration file (when given) with the
// command line flags; any flag set explicitly wins.
func buildConfig(rawCmd *cobra.Command, cmd Cmd) (*mempool.Config, error) {
	cfg := mempool.DefaultConfig()

	if cmd.ConfigPath != "" {
		loaded, err := mempool.LoadConfig(cmd.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := rawCmd.Flags()

	if flags.Changed("threads") {
		cfg.Threads.Count = cmd.Threads
	}
	if flags.Changed("portion-size") {
		var size datasize.ByteSize
		if err := size.UnmarshalText([]byte(cmd.PortionSize)); err != nil {
			return nil, fmt.Errorf("failed to parse portion size %q: %w", cmd.PortionSize, err)
		}
		cfg.Threads.PortionSize = size
	}
	if flags.Changed("granularity") {
		cfg.Item.Granularity = cmd.Granularity
	}
	if flags.Changed("record-capacity") {
		cfg.Record.Capacity = cmd.RecordCapacity
	}
	if flags.Changed("portion-capacity") {
		cfg.Portion.Capacity = cmd.PortionCapacity
	}
	if flags.Changed("portion-count") {
		cfg.Portion.Count = cmd.PortionCount
	}
	if flags.Changed("key-mask") {
		cfg.Key.Mask = mempool.Mask(cmd.KeyMask)
	}
	if flags.Changed("value-mask") {
		cfg.Value.Mask = mempool.Mask(cmd.ValueMask)
	}
	if flags.Changed("condition-min") {
		cfg.Condition.Min = cmd.ConditionMin
	}
	if flags.Changed("condition-max") {
		cfg.Condition.Max = cmd.ConditionMax
	}
	if flags.Changed("algorithm") {
		cfg.Algorithm = mempool.ParseAlgorithm(cmd.Algorithm)
	}
	cfg.ShowDebug = cfg.ShowDebug || cmd.Debug

	return cfg, nil
}

func run(rawCmd *cobra.Command, cmd Cmd) error {
	cfg, err := buildConfig(rawCmd, cmd)
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}

	log, _, err := logging.InitTool(cfg.ShowDebug)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer log.Sync()

	pool, err := mempool.NewPool(cfg, mempool.WithLog(log))
	if err != nil {
		return err
	}

	size := int64(cfg.BufferSize())

	log.Infof("mapping files ...")

	input, err := xmmap.MapInput(cmd.InputFile, size)
	if err != nil {
		return err
	}
	defer input.Close()

	output, err := xmmap.MapOutput(cmd.OutputFile, size)
	if err != nil {
		return err
	}
	defer output.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		defer cancel()
		log.Infof("running %s over %d portions ...", cfg.Algorithm, cfg.Threads.Count)
		if err := pool.Run(ctx, input.Bytes(), output.Bytes()); err != nil {
			return err
		}
		return output.Sync()
	})
	wg.Go(func() error {
		if err := xcmd.WaitInterrupted(ctx); !errors.Is(err, context.Canceled) {
			log.Infof("caught signal: %v", err)
			return err
		}
		return nil
	})

	return wg.Wait()
}
