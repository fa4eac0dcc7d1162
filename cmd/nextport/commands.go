package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/niksan004/nextport/pkg/aggregate"
	nperrors "github.com/niksan004/nextport/pkg/errors"
	"github.com/niksan004/nextport/pkg/source"
	"github.com/niksan004/nextport/pkg/tui"
	"github.com/niksan004/nextport/pkg/voyage"
	"github.com/niksan004/nextport/pkg/watch"
)

var (
	countOnly  bool
	configSave string
)

var entitiesCmd = &cobra.Command{
	Use:   "entities",
	Short: "List the vessels (IMO numbers) in the event store",
	Args:  cobra.NoArgs,
	RunE:  runEntities,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <imo>",
	Short: "Show one vessel's stay and next-port rows without writing them",
	Long: `Reconstruct a single vessel from the event store and print the rows a run
would write for it.

Examples:
  nextport inspect 9321483
  nextport inspect 9321483 -d events.duckdb`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Rerun the aggregation whenever the event store changes",
	Long: `Run once, then watch the event store file and rerun after every change.

Each rerun replaces the previous results: SQL result tables are emptied
first and result files are overwritten.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE:  runConfig,
}

func init() {
	entitiesCmd.Flags().BoolVar(&countOnly, "count", false, "Print only the number of vessels")
	configCmd.Flags().StringVar(&configSave, "save", "", "Also write the configuration to this file (.yaml or .toml)")
}

func runEntities(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ids, err := listEntities(cmd.Context(), a.cfg)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if countOnly {
		fmt.Fprintln(w, len(ids))
		return nil
	}
	for _, id := range ids {
		fmt.Fprintln(w, id)
	}
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return nperrors.Wrap(err, nperrors.CodeConfigInvalid, "imo must be an integer").
			WithContext("imo", args[0])
	}

	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	src, err := source.Open(a.cfg.Source.Driver, a.cfg.Source.Path)
	if err != nil {
		return err
	}
	defer src.Close()

	it, err := src.Events(ctx, id)
	if err != nil {
		return err
	}
	defer it.Close()

	r, err := voyage.Reconstruct(ctx, it)
	if err != nil {
		return err
	}

	stays, skipped := aggregate.StayRows(id, r.Stays(), a.cfg.Constants.SDCoefficient)
	voyages := aggregate.VoyageRows(id, r.Graph())

	var nStays, nLegs int
	for _, port := range r.Stays().Ports() {
		nStays += r.Stays().Len(port)
	}
	for _, from := range r.Graph().Origins() {
		nLegs += r.Graph().Arrivals(from)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "IMO %d: %d events, %d stays at %d ports, %d legs\n\n",
		id, r.Fed(), nStays, len(r.Stays().Ports()), nLegs)

	fmt.Fprintln(w, "Stay times")
	tui.PrintStayTable(w, stays)
	for _, port := range skipped {
		fmt.Fprintf(w, "  %s: all %d samples trimmed\n", port, r.Stays().Len(port))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Next ports")
	tui.PrintVoyageTable(w, voyages)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	// Every rerun rewrites the whole result set.
	a.cfg.Sink.Replace = true

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	w, err := watch.New(a.cfg.Source.Path, time.Duration(a.cfg.Watch.DebounceMS)*time.Millisecond, a.log.Logger)
	if err != nil {
		return nperrors.Wrap(err, nperrors.CodeSourceOpen, "watch event store")
	}
	defer w.Close()

	out := cmd.ErrOrStderr()
	if !quiet {
		tui.PrintHeader(out, version)
	}

	rerun := func(ctx context.Context) error {
		report, err := runAggregation(ctx, a, out)
		if err != nil {
			if !isCanceled(err) {
				tui.PrintError(out, err)
			}
			return err
		}
		if !quiet {
			tui.PrintRunReport(out, report)
		}
		return nil
	}

	if err := rerun(ctx); err != nil && isCanceled(err) {
		return nil
	}

	a.log.Info("watching event store", "path", w.Path())
	if err := w.Run(ctx, rerun); err != nil && !isCanceled(err) {
		return err
	}
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	data, err := a.mgr.Marshal()
	if err != nil {
		return err
	}
	if paths := a.mgr.GetPaths(); len(paths) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %v\n", paths)
	}
	cmd.OutOrStdout().Write(data)

	if configSave != "" {
		if err := a.mgr.Save(configSave); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "  saved %s\n", configSave)
	}
	return nil
}
