package main

import (
	"context"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/niksan004/nextport/internal/pipe"
	"github.com/niksan004/nextport/pkg/aggregate"
	"github.com/niksan004/nextport/pkg/config"
	"github.com/niksan004/nextport/pkg/queue"
	"github.com/niksan004/nextport/pkg/sink"
	"github.com/niksan004/nextport/pkg/source"
	"github.com/niksan004/nextport/pkg/storage/s3"
	"github.com/niksan004/nextport/pkg/tui"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Compute next-port and stay-time tables for every vessel",
	Long: `Read every vessel from the event store, reconstruct its voyages and stays,
and write the next-port and stay-time tables to the configured sink.

Examples:
  nextport run
  nextport run -c prod.yaml --workers 8
  nextport run --sink parquet --upload
  nextport run --scheduler redis`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	out := cmd.ErrOrStderr()
	if !quiet {
		tui.PrintHeader(out, version)
	}

	report, err := runAggregation(ctx, a, out)
	if err != nil {
		if isCanceled(err) {
			a.log.Warn("run interrupted")
		}
		return err
	}
	if !quiet {
		tui.PrintRunReport(out, report)
	}
	return nil
}

// runAggregation performs one full run: list entities, fan out the workers,
// then upload the result files if asked to.
func runAggregation(ctx context.Context, a *app, out io.Writer) (*tui.RunReport, error) {
	cfg := a.cfg
	runID := uuid.NewString()
	log := a.log.With("run_id", runID)

	ids, err := listEntities(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if n := cfg.Constants.ShipSampleSize; n > 0 && n < len(ids) {
		log.Info("limiting run to sample", "ship_sample_size", n, "entities", len(ids))
		ids = ids[:n]
	}

	workers := cfg.WorkerCount()
	if !quiet {
		tui.PrintRunPlan(out, &tui.RunPlan{
			RunID:     runID,
			Source:    cfg.Source.Driver + ":" + cfg.Source.Path,
			Sink:      sinkLabel(cfg),
			Scheduler: cfg.Scheduler.Kind,
			Workers:   workers,
			Entities:  len(ids),
		})
	}

	sinks, err := sink.NewFactory(ctx, sinkConfig(cfg))
	if err != nil {
		return nil, err
	}
	defer sinks.Close()

	sched, err := queue.New(queue.Kind(cfg.Scheduler.Kind), redisConfig(cfg), runID)
	if err != nil {
		return nil, err
	}

	sources := source.NewOpener(cfg.Source.Driver, cfg.Source.Path)
	defer sources.Close()

	p := pipe.New(pipe.Config{
		RunID:   runID,
		Workers: workers,
		Driver: aggregate.Config{
			SDCoefficient: cfg.Constants.SDCoefficient,
			BatchSize:     cfg.Constants.BulkInsert,
		},
	}, sources, sinks, sched, a.log)

	if !quiet {
		bar := tui.NewProgressBar(out, int64(len(ids)))
		p.SetProgressCallback(func(pr pipe.Progress) {
			bar.Set64(pr.Entities)
		})
		defer bar.Finish()
	}

	res, err := p.Run(ctx, ids)
	if err != nil {
		return nil, err
	}
	if err := sinks.Close(); err != nil {
		return nil, err
	}

	report := &tui.RunReport{
		RunID:        res.RunID,
		Entities:     res.Entities,
		Events:       res.Events,
		StayRows:     res.StayRows,
		VoyageRows:   res.VoyageRows,
		SkippedPorts: res.SkippedPorts,
		Duration:     res.Elapsed,
		Files:        resultFiles(cfg, sinks),
	}

	if cfg.Upload.Enabled {
		uris, err := upload(ctx, cfg, runID, report.Files)
		if err != nil {
			return nil, err
		}
		report.Uploaded = uris
	}
	return report, nil
}

func listEntities(ctx context.Context, cfg *config.Config) ([]int64, error) {
	src, err := source.Open(cfg.Source.Driver, cfg.Source.Path)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return src.Entities(ctx)
}

func sinkConfig(cfg *config.Config) sink.Config {
	return sink.Config{
		Kind:        sink.Kind(cfg.Sink.Kind),
		Driver:      cfg.Sink.Driver,
		DSN:         cfg.Sink.DSN,
		OutputDir:   cfg.Sink.OutputDir,
		Compression: sink.ParseCompression(cfg.Sink.Compression),
		StayTable:   cfg.Tables.StayTime,
		VoyageTable: cfg.Tables.NextPort,
		BulkInsert:  cfg.Constants.BulkInsert,
		Replace:     cfg.Sink.Replace,
	}
}

func sinkLabel(cfg *config.Config) string {
	if cfg.Sink.Kind == string(sink.KindSQL) {
		return cfg.Sink.Driver + ":" + sink.DisplayDSN(cfg.Sink.Driver, cfg.Sink.DSN)
	}
	return cfg.Sink.Kind + ":" + cfg.Sink.OutputDir
}

func redisConfig(cfg *config.Config) queue.RedisConfig {
	r := queue.DefaultRedisConfig(cfg.Scheduler.Redis.Addr)
	r.Password = cfg.Scheduler.Redis.Password
	r.DB = cfg.Scheduler.Redis.DB
	r.KeyPrefix = cfg.Scheduler.Redis.KeyPrefix
	return r
}

// resultFiles lists what a run produced on disk. A SQL sink's database
// counts when it is a local file.
func resultFiles(cfg *config.Config, sinks *sink.Factory) []string {
	if cfg.Sink.Kind != string(sink.KindSQL) {
		return sinks.Files()
	}
	if _, err := os.Stat(cfg.Sink.DSN); err == nil {
		return []string{cfg.Sink.DSN}
	}
	return nil
}

func upload(ctx context.Context, cfg *config.Config, runID string, files []string) ([]string, error) {
	scfg := s3.DefaultConfig(cfg.Upload.Bucket, cfg.Upload.Region)
	scfg.Prefix = cfg.Upload.Prefix
	scfg.Endpoint = cfg.Upload.Endpoint
	scfg.UsePathStyle = cfg.Upload.UsePathStyle
	scfg.AccessKeyID = cfg.Upload.AccessKeyID
	scfg.SecretAccessKey = cfg.Upload.SecretAccessKey

	client, err := s3.NewClient(ctx, scfg)
	if err != nil {
		return nil, err
	}
	objects, err := client.UploadFiles(ctx, runID, files)
	if err != nil {
		return nil, err
	}

	uris := make([]string, len(objects))
	for i, o := range objects {
		uris[i] = o.URI(client.Bucket())
	}
	return uris, nil
}
