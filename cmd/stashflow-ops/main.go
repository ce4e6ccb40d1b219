package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaiso/Stashflow/internal/app"
	"github.com/shaiso/Stashflow/internal/cli"
	"github.com/shaiso/Stashflow/internal/config"
	"github.com/shaiso/Stashflow/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "stashflow-ops",
		Short:         "Stashflow ops: run sweeps, inspect drafts and the queue, watch alerts",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	backendFn := func(ctx context.Context) (cli.Backend, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		// Логи в stderr, чтобы не мешать выводу данных.
		logger := telemetry.NewLogger(os.Stderr, cfg.LogLevel, "text")
		a, err := app.New(ctx, cfg, logger, nil)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewSweepCmd(backendFn, outputFn),
		cli.NewQueueCmd(backendFn, outputFn),
		cli.NewInspectCmd(backendFn, outputFn),
		cli.NewAlertsCmd(backendFn, outputFn),
		cli.NewCategorizeCmd(outputFn),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
