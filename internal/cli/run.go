package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rostrum-oss/rostrum/internal/config"
	"github.com/rostrum-oss/rostrum/internal/event"
	"github.com/rostrum-oss/rostrum/internal/executor"
	"github.com/rostrum-oss/rostrum/internal/orchestrator"
	"github.com/rostrum-oss/rostrum/internal/telemetry"
	"github.com/rostrum-oss/rostrum/internal/workflow"
)

var (
	runParallel int
	runExecutor string
	runWorkdir  string
	runContinue bool
	runWebhook  string
)

var runCmd = &cobra.Command{
	Use:   "run <workflow.yaml> [workflow.yaml...]",
	Short: "Run workflow definitions",
	Long: `Run one or more workflow definitions to completion.

Each file describes a workflow as a dependency graph of tasks. Tasks
carrying a command in their metadata are executed through the shell;
tasks without one sleep their estimated duration.

Examples:
  rostrum run deploy.yaml                  # Run a single workflow
  rostrum run workflows/*.yaml             # Run several sequentially
  rostrum run -p 4 workflows/*.yaml        # Up to four at a time
  rostrum run --executor skeleton plan.yaml # Dry-run the schedule`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVarP(&runParallel, "parallel", "p", 1, "workflows to run concurrently")
	runCmd.Flags().StringVar(&runExecutor, "executor", "command", "task executor: command or skeleton")
	runCmd.Flags().StringVar(&runWorkdir, "workdir", "", "working directory for task commands")
	runCmd.Flags().BoolVar(&runContinue, "continue-on-failure", false, "leave a workflow running after a task fails")
	runCmd.Flags().StringVar(&runWebhook, "webhook", "", "POST every lifecycle event as JSON to this URL")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nReceived interrupt, stopping workflows...")
		cancel()
	}()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Load every definition up front so one bad file stops the batch
	// before anything runs.
	defs := make([]*workflow.Definition, 0, len(args))
	for _, path := range args {
		def, err := config.LoadDefinition(path)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		defs = append(defs, def)
	}

	exec, err := buildExecutor()
	if err != nil {
		return err
	}

	logger := telemetry.NewLoggerFormat(cfg.Log.Level == "debug", cfg.Log.Format)
	if cfg.Log.File != "" {
		if err := logger.WithFile(cfg.Log.File); err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
	}
	defer logger.Close()

	opts := orchestrator.Options{ContinueOnTaskFailure: runContinue, Logger: logger}
	if cfg.Metrics.Addr != "" {
		opts.Collector = telemetry.NewCollector()
	}

	orch, err := orchestrator.New(cfg, exec, opts)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := orch.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		}
	}()

	if cfg.Log.Level == "debug" {
		trace := event.LoggingHandler(logger, "debug")
		for _, t := range event.Types() {
			orch.Bus().Register(t, trace)
		}
	}
	if runWebhook != "" {
		hook := event.WebhookHandler(runWebhook, 0)
		for _, t := range event.Types() {
			orch.Bus().Register(t, hook)
		}
	}

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := orch.ServeMetrics(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
			}
		}()
	}

	var (
		mu     sync.Mutex
		failed []string
	)
	var g errgroup.Group
	if runParallel > 0 {
		g.SetLimit(runParallel)
	}

	for _, def := range defs {
		def := def
		g.Go(func() error {
			start := time.Now()
			err := orch.RunWorkflow(ctx, def)
			elapsed := time.Since(start).Round(time.Millisecond)
			if err != nil {
				mu.Lock()
				failed = append(failed, def.ID)
				mu.Unlock()
				fmt.Printf("%s %s  failed after %s: %v\n", getStatusIcon("failed"), def.ID, elapsed, err)
				return fmt.Errorf("workflow %s failed: %w", def.ID, err)
			}
			fmt.Printf("%s %s  completed in %s\n", getStatusIcon("completed"), def.ID, elapsed)
			return nil
		})
	}

	// A plain group never cancels siblings, so every workflow gets its
	// full run before the batch reports.
	if err := g.Wait(); err != nil {
		if len(failed) > 1 {
			return fmt.Errorf("%d of %d workflows failed: %v", len(failed), len(defs), failed)
		}
		return err
	}
	if len(defs) > 1 {
		fmt.Printf("\nAll %d workflows completed.\n", len(defs))
	}
	return nil
}

func buildExecutor() (workflow.Executor, error) {
	switch runExecutor {
	case "command":
		return executor.NewCommandExecutor(runWorkdir), nil
	case "skeleton":
		// nil selects the scheduler's built-in stand-in.
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown executor %q (use command or skeleton)", runExecutor)
	}
}
