package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tidemark-oss/tidemark/internal/config"
	"github.com/tidemark-oss/tidemark/internal/event"
	"github.com/tidemark-oss/tidemark/internal/store"
	"github.com/tidemark-oss/tidemark/internal/sweeper"
	"github.com/tidemark-oss/tidemark/internal/telemetry"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one retention sweep",
	Long:  `Delete memories that have outlived their project's retention policy, then exit.`,
	RunE:  runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configDir())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := telemetry.NewLogger(verbose)
	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	sw := sweeper.New(st, logger, telemetry.NewMetrics(), event.NewBus(logger),
		cfg.Sweep.Hour, cfg.Sweep.BatchSize)
	deleted, err := sw.SweepOnce(context.Background())
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	fmt.Printf("Swept %d expired memories\n", deleted)
	return nil
}
