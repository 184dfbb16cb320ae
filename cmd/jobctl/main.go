package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"SignalForge/internal/di"
	"SignalForge/internal/domain/models"
	"SignalForge/pkg/config"
)

var (
	configPath string
	symbols    []string
	strict     bool
)

// errRunFailed marks a run that completed with failed symbols.
var errRunFailed = errors.New("run finished with failures")

var rootCmd = &cobra.Command{
	Use:   "jobctl",
	Short: "Run SignalForge pipeline jobs once",
	Long: `Run one pipeline job against the configured stores and print its run log as JSON.

Examples:
  jobctl ingest
  jobctl generate --symbols AAPL,MSFT
  jobctl all --config config/config.yaml --strict`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "Config file path")
	rootCmd.PersistentFlags().StringSliceVar(&symbols, "symbols", nil, "Symbols to process (default: configured universe)")
	rootCmd.PersistentFlags().BoolVar(&strict, "strict", false, "Exit non-zero when any symbol failed")

	for _, job := range []struct {
		name  models.JobName
		short string
	}{
		{models.JobIngest, "Fetch recent bars into the bar store"},
		{models.JobGenerate, "Detect structure and emit signals on closed candles"},
		{models.JobExecute, "Hand executable signals to the execution collaborator"},
		{models.JobAll, "Run ingest, generate and execute in sequence"},
	} {
		job := job
		rootCmd.AddCommand(&cobra.Command{
			Use:   string(job.name),
			Short: job.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runJob(cmd.Context(), job.name)
			},
		})
	}
}

func runJob(ctx context.Context, job models.JobName) error {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	runner, cleanup, err := di.InitializeJobRunner(cfg)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer cleanup()
	runner.Events.Start(ctx)
	defer func() { _ = runner.Close() }()

	run, err := runner.Pipeline.Run(ctx, job, symbols)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(run); err != nil {
		return fmt.Errorf("write run log: %w", err)
	}
	if strict && !run.Success {
		return errRunFailed
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintln(os.Stderr, "jobctl:", err)
		}
		stop()
		os.Exit(1)
	}
}
