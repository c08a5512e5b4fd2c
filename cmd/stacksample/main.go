package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ja7ad/stacksample/pkg/demorun"
	"github.com/ja7ad/stacksample/pkg/sampler"
)

// lifecycle is the subset of Periodic/Async that the start command drives;
// defined here rather than exported from pkg/sampler since it only exists
// to let this command pick a driver by flag at runtime.
type lifecycle interface {
	Start() error
	Stop() error
	Dumps() (string, error)
	Save(path string) error
}

func main() {
	root := &cobra.Command{
		Use:   "stacksample",
		Short: "Statistical stack-sampling profiler",
		Long: `stacksample periodically or asynchronously samples every thread's call
stack and aggregates the results into a folded-stack trie suitable for flame
graph rendering.

* GitHub: https://github.com/ja7ad/stacksample`,
	}

	root.AddCommand(newStartCmd(), newDumpCmd())

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

type startOpts struct {
	mode           string
	intervalUS     uint64
	runFor         time.Duration
	timeMode       string
	treeMode       bool
	focusMode      bool
	ignoreFrozen   bool
	ignoreSelf     bool
	traceCFunction bool
	workers        int
	output         string
	topN           int
	debug          bool
}

func newStartCmd() *cobra.Command {
	var o startOpts

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the profiler against the built-in demo workload and print the folded stacks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context(), o)
		},
	}

	cmd.Flags().StringVar(&o.mode, "mode", "periodic", "sampler driver: periodic or async")
	cmd.Flags().Uint64Var(&o.intervalUS, "interval-us", 10_000, "sampling interval in microseconds (0 = busy loop)")
	cmd.Flags().DurationVar(&o.runFor, "run-for", 2*time.Second, "how long to sample before reporting (0 = until Ctrl-C)")
	cmd.Flags().StringVar(&o.timeMode, "time-mode", "wall", "clock charged per sample: none, cpu, or wall")
	cmd.Flags().BoolVar(&o.treeMode, "tree", false, "use the live line instead of the function's first line")
	cmd.Flags().BoolVar(&o.focusMode, "focus", false, "drop standard-library and site-packages frames")
	cmd.Flags().BoolVar(&o.ignoreFrozen, "ignore-frozen", false, "drop frozen-module frames")
	cmd.Flags().BoolVar(&o.ignoreSelf, "ignore-self", false, "drop frames from the profiler's own install path")
	cmd.Flags().BoolVar(&o.traceCFunction, "trace-cfunction", true, "weight native-call durations into the trie")
	cmd.Flags().IntVar(&o.workers, "workers", 3, "number of simulated demo worker threads")
	cmd.Flags().StringVar(&o.output, "output", "", "also save the profile as JSON to this path")
	cmd.Flags().IntVar(&o.topN, "top", 20, "number of top stacks to show in the summary table")
	cmd.Flags().BoolVar(&o.debug, "debug", false, "log per-sample diagnostics")

	return cmd
}

func runStart(ctx context.Context, o startOpts) error {
	timeMode, err := sampler.ParseTimeMode(o.timeMode)
	if err != nil {
		return err
	}

	cfg := &sampler.Config{
		SamplingIntervalUS: o.intervalUS,
		TimeMode:           timeMode,
		Debug:              o.debug,
		IgnoreFrozen:       o.ignoreFrozen,
		IgnoreSelf:         o.ignoreSelf,
		TreeMode:           o.treeMode,
		FocusMode:          o.focusMode,
		TraceCFunction:     o.traceCFunction,
		// The demo workload's standard-library frames live under this prefix.
		StdlibDir: "/usr/lib/python3.12/",
	}

	if o.debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	rt := demorun.New(o.workers)
	defer rt.Stop()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var s lifecycle
	switch o.mode {
	case "periodic":
		s, err = sampler.NewPeriodic(rt, cfg, 0, slog.Default())
	case "async":
		s, err = newAsyncSampler(rt, cfg)
	default:
		return fmt.Errorf("unknown mode %q: want periodic or async", o.mode)
	}
	if err != nil {
		return err
	}

	if err := s.Start(); err != nil {
		return fmt.Errorf("start sampler: %w", err)
	}

	if o.runFor > 0 {
		select {
		case <-time.After(o.runFor):
		case <-ctx.Done():
			slog.Info("interrupted")
		}
	} else {
		<-ctx.Done()
		slog.Info("interrupted")
	}

	if err := s.Stop(); err != nil {
		return fmt.Errorf("stop sampler: %w", err)
	}

	raw, err := s.Dumps()
	if err != nil {
		return fmt.Errorf("dump profile: %w", err)
	}
	var doc savedProfile
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("parse profile: %w", err)
	}
	printProfileTable(os.Stdout, doc, o.topN)

	if o.output != "" {
		if err := s.Save(o.output); err != nil {
			return fmt.Errorf("save profile: %w", err)
		}
		fmt.Printf("wrote profile to %s\n", o.output)
	}
	return nil
}

// savedProfile mirrors the shape sampler.Save/Dumps writes, so this command
// can re-read a saved profile without importing the sampler package's
// unexported persisted type.
type savedProfile struct {
	Folded             string `json:"folded"`
	SamplingIntervalUS uint64 `json:"sampling_interval_us"`
	TimeMode           string `json:"time_mode"`
	AccSamplingTimeNS  uint64 `json:"acc_sampling_time_ns"`
	SamplingTimes      uint64 `json:"sampling_times"`
	LifeTimeNS         uint64 `json:"life_time_ns"`
}

// stackRow is one folded-stack line, split into its count and the
// semicolon-delimited stack string that earned it.
type stackRow struct {
	count uint64
	stack string
}

func topStackRows(folded string, n int) []stackRow {
	var rows []stackRow
	for _, line := range strings.Split(folded, "\n") {
		if line == "" {
			continue
		}
		sep := strings.LastIndexByte(line, ' ')
		if sep < 0 {
			continue
		}
		count, err := strconv.ParseUint(line[sep+1:], 10, 64)
		if err != nil {
			continue
		}
		rows = append(rows, stackRow{count: count, stack: line[:sep]})
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].count > rows[j].count })
	if n > 0 && len(rows) > n {
		rows = rows[:n]
	}
	return rows
}

// printProfileTable renders the sampler's run stats and its top-n folded
// stacks as two tabwriter tables, the way the teacher's CLI renders its
// per-tick sample rows.
func printProfileTable(w *os.File, doc savedProfile, topN int) {
	stats := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(stats, "SAMPLES\tACC SAMPLING TIME\tLIFE TIME\tTIME MODE\tINTERVAL (us)")
	fmt.Fprintf(stats, "%d\t%s\t%s\t%s\t%d\n",
		doc.SamplingTimes,
		time.Duration(doc.AccSamplingTimeNS),
		time.Duration(doc.LifeTimeNS),
		doc.TimeMode,
		doc.SamplingIntervalUS,
	)
	stats.Flush()

	fmt.Fprintln(w)
	rows := topStackRows(doc.Folded, topN)
	stacks := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(stacks, "COUNT\tSTACK")
	for _, r := range rows {
		fmt.Fprintf(stacks, "%d\t%s\n", r.count, r.stack)
	}
	stacks.Flush()
}

func newDumpCmd() *cobra.Command {
	var topN int

	cmd := &cobra.Command{
		Use:   "dump <path>",
		Short: "Print the summary table from a previously saved profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(args[0], topN)
		},
	}
	cmd.Flags().IntVar(&topN, "top", 20, "number of top stacks to show")
	return cmd
}

func runDump(path string, topN int) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var doc savedProfile
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse profile: %w", err)
	}

	printProfileTable(os.Stdout, doc, topN)
	return nil
}
