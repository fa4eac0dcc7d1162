// nextport - next-port probabilities and port stay times from vessel event logs.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/niksan004/nextport/pkg/config"
	nperrors "github.com/niksan004/nextport/pkg/errors"
	"github.com/niksan004/nextport/pkg/logging"
	"github.com/niksan004/nextport/pkg/telemetry"
	"github.com/niksan004/nextport/pkg/tui"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// CLI flags
var (
	configPath    string
	dataFile      string
	workersFlag   int
	sinkFlag      string
	schedulerFlag string
	uploadFlag    bool
	replaceFlag   bool
	verbose       bool
	quiet         bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		tui.PrintError(os.Stderr, err)
		if code := nperrors.GetCode(err); code != nperrors.CodeUnknown {
			fmt.Fprintf(os.Stderr, "  code: %s\n", code)
		}
		var e *nperrors.Error
		if verbose && errors.As(err, &e) {
			fmt.Fprint(os.Stderr, e.FormatStack())
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "nextport",
	Short: "nextport - next-port probabilities and port stay times",
	Long: `nextport reads a vessel event log, reconstructs every vessel's port calls
and writes two tables: the share of departures from each port that went to
each next port, and a robust stay time per port.`,
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: search for "+config.DefaultFile+")")
	rootCmd.PersistentFlags().StringVarP(&dataFile, "data", "d", "", "Event store path (overrides source.data_file_name)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")

	for _, cmd := range []*cobra.Command{runCmd, watchCmd} {
		cmd.Flags().IntVarP(&workersFlag, "workers", "w", 0, "Worker count (default: config, 0 = one per CPU)")
		cmd.Flags().StringVar(&sinkFlag, "sink", "", "Result sink (sql, parquet, xlsx)")
		cmd.Flags().StringVar(&schedulerFlag, "scheduler", "", "Work assignment (static, redis)")
		cmd.Flags().BoolVar(&uploadFlag, "upload", false, "Upload result files to S3")
	}
	runCmd.Flags().BoolVar(&replaceFlag, "replace", false, "Empty the result tables before writing (sql sink)")

	rootCmd.AddCommand(runCmd, entitiesCmd, inspectCmd, watchCmd, configCmd)
}

// app is the state shared by every command after setup.
type app struct {
	cfg      *config.Config
	mgr      *config.Manager
	log      *logging.Logger
	shutdown telemetry.Shutdown
}

// setup loads configuration, applies flag overrides and installs logging
// and tracing.
func setup(cmd *cobra.Command) (*app, error) {
	mgr := config.NewManager()
	if err := mgr.Load(configPath); err != nil {
		return nil, err
	}
	cfg := mgr.Get()

	flags := cmd.Flags()
	if dataFile != "" {
		cfg.Source.Path = dataFile
	}
	if flags.Changed("workers") {
		cfg.Workers = workersFlag
	}
	if flags.Changed("sink") {
		cfg.Sink.Kind = sinkFlag
	}
	if flags.Changed("scheduler") {
		cfg.Scheduler.Kind = schedulerFlag
	}
	if flags.Changed("upload") {
		cfg.Upload.Enabled = uploadFlag
	}
	if flags.Changed("replace") {
		cfg.Sink.Replace = replaceFlag
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	logging.SetDefault(log)

	tcfg := telemetry.DefaultConfig()
	tcfg.Enabled = cfg.Telemetry.Enabled
	tcfg.Endpoint = cfg.Telemetry.Endpoint
	tcfg.ServiceName = cfg.Telemetry.ServiceName
	tcfg.ServiceVersion = version
	tcfg.Insecure = cfg.Telemetry.Insecure
	tcfg.SampleRate = cfg.Telemetry.SampleRate
	shutdown, err := telemetry.Init(cmd.Context(), tcfg)
	if err != nil {
		log.Warn("tracing disabled", "error", err)
		shutdown = func(context.Context) error { return nil }
	}

	log.Debug("configuration loaded", "files", mgr.GetPaths())
	return &app{cfg: cfg, mgr: mgr, log: log, shutdown: shutdown}, nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	lcfg := logging.DefaultConfig()
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, nperrors.InvalidConfig("logging.level", cfg.Logging.Level)
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, nperrors.InvalidConfig("logging.format", cfg.Logging.Format)
	}
	lcfg.Level = level
	lcfg.Format = format
	lcfg.Output = cfg.Logging.Output
	lcfg.FilePath = cfg.Logging.File
	return logging.New(lcfg)
}

// close flushes tracing and the log file.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		a.log.Warn("flush traces", "error", err)
	}
	a.log.Close()
}

// signalContext cancels on SIGINT or SIGTERM. A second signal exits at once.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 2)
	done := make(chan struct{})
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "\n  interrupted, stopping workers (already flushed batches are kept)")
			cancel()
		case <-done:
			return
		}
		select {
		case <-sigChan:
			os.Exit(130)
		case <-done:
		}
	}()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			signal.Stop(sigChan)
			close(done)
			cancel()
		})
	}
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
