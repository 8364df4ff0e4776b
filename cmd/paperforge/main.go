// Package main provides the paperforge binary entry point.
// Paperforge turns a machine learning paper into a runnable Python
// project and iteratively refines it against expectations extracted
// from the paper itself.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	// Register LLM providers via init()
	_ "github.com/c360studio/paperforge/llm/providers"

	"github.com/c360studio/paperforge/reflect"
	"github.com/c360studio/paperforge/workspace"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "paperforge"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		opts     appOptions
		logLevel string
		replace  bool
	)

	cmd := &cobra.Command{
		Use:   "paperforge",
		Short: "Paper-to-code synthesis with reflective refinement",
		Long: `Paperforge reads a machine learning paper, designs a set of
verifiable expectations from it, generates a Python implementation, and
then iterates: evaluate the code against every expectation, plan
targeted revisions for the failures, and apply them, until the code
converges or the iteration budget runs out.

Each paper gets a workspace directory holding the frozen signal set,
every code version, and the full iteration history, so interrupted runs
resume where they stopped.`,
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "Config file path (YAML)")
	pf.StringVar(&opts.paperDir, "papers", "", "Directory holding one subdirectory per paper id")
	pf.StringVar(&opts.workspace, "workspace", "", "Root directory for run workspaces")
	pf.StringVar(&opts.metricsAddr, "metrics-addr", "", "Listen address for Prometheus /metrics")
	pf.StringArrayVar(&opts.modelPins, "model", nil, "Pin a capability to an endpoint (capability=endpoint, repeatable)")
	pf.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	signalsCmd := &cobra.Command{
		Use:   "signals <paper-id>",
		Short: "Design the supervisory signal set for a paper",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSignals(cmd.Context(), opts, logLevel, args[0], replace)
		},
	}
	signalsCmd.Flags().BoolVar(&replace, "replace", false, "Discard the existing workspace first")

	generateCmd := &cobra.Command{
		Use:   "generate <paper-id>",
		Short: "Generate the initial code version from a paper",
		Long: `Generate designs the signal set (unless the workspace already holds a
frozen one) and synthesizes version 0 of the code. It does not iterate;
run reflect afterwards to spend the refinement budget.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd.Context(), opts, logLevel, args[0], replace)
		},
	}
	generateCmd.Flags().BoolVar(&replace, "replace", false, "Discard the existing workspace first")

	reflectCmd := &cobra.Command{
		Use:   "reflect <paper-id>",
		Short: "Run or resume the reflection loop on an existing workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReflect(cmd.Context(), opts, logLevel, args[0])
		},
	}
	reflectCmd.Flags().IntVar(&opts.maxAttempts, "max-attempts", 0, "Override the reflection iteration budget")

	cmd.AddCommand(signalsCmd, generateCmd, reflectCmd, &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

// setup configures logging and builds the app.
func setup(opts appOptions, logLevel string) (*App, error) {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	return newApp(opts, logger)
}

// signalContext cancels on SIGINT/SIGTERM so a run stops cleanly and
// can be resumed later.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func runSignals(parent context.Context, opts appOptions, logLevel, paperID string, replace bool) error {
	app, err := setup(opts, logLevel)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := signalContext(parent)
	defer cancel()

	store, err := app.openStore(paperID, replace)
	if err != nil {
		return err
	}
	p, err := app.loadPaper(paperID)
	if err != nil {
		return err
	}

	set, err := app.designSignals(ctx, p, store)
	if err != nil {
		return err
	}

	fmt.Printf("Designed %d signals for %s:\n", len(set.Signals), paperID)
	for _, sig := range set.Signals {
		fmt.Printf("  [%s] %-16s %s\n", sig.ID, sig.Category, sig.Description)
	}
	return nil
}

func runGenerate(parent context.Context, opts appOptions, logLevel, paperID string, replace bool) error {
	app, err := setup(opts, logLevel)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := signalContext(parent)
	defer cancel()

	store, err := app.openStore(paperID, replace)
	if err != nil {
		return err
	}
	p, err := app.loadPaper(paperID)
	if err != nil {
		return err
	}

	set, err := app.loadOrDesignSignals(ctx, p, store)
	if err != nil {
		return err
	}

	latest, err := store.LatestVersion()
	switch {
	case err == nil:
		fmt.Printf("Workspace already holds v%03d; run reflect to iterate, or generate --replace to start over\n", latest)
		return nil
	case errors.Is(err, workspace.ErrNotFound):
		art, err := app.synthesize(ctx, p, set, store)
		if err != nil {
			return err
		}
		fmt.Printf("Generated v%03d (%d files, %d signals) in %s; run reflect to iterate\n",
			art.Version, len(art.Files), len(set.Signals), store.Root())
		return nil
	default:
		return err
	}
}

func runReflect(parent context.Context, opts appOptions, logLevel, paperID string) error {
	app, err := setup(opts, logLevel)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := signalContext(parent)
	defer cancel()

	store, err := app.openStore(paperID, false)
	if err != nil {
		return err
	}
	set, err := store.LoadSignals()
	if err != nil {
		return fmt.Errorf("no signal set in workspace (run signals or generate first): %w", err)
	}

	result, err := app.runLoop(ctx, paperID, set, store)
	if err != nil {
		return err
	}
	return reportResult(result, store.Root())
}

// reportResult prints the run outcome. A failed run exits non-zero.
func reportResult(result *reflect.Result, root string) error {
	fmt.Printf("Run %s after %d iteration(s); final version v%03d in %s\n",
		result.Status, result.Iterations, result.FinalVersion, root)

	if result.Status == reflect.StatusFailed {
		return fmt.Errorf("reflection run failed")
	}
	return nil
}
