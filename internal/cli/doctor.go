package cli

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidemark-oss/tidemark/internal/config"
	"github.com/tidemark-oss/tidemark/internal/embedding"
	"github.com/tidemark-oss/tidemark/internal/store"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check environment and dependencies",
	Long:  "Validate configuration, the database, and the embedding gateway.",
	RunE:  runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Println("tidemark doctor — checking your environment")
	fmt.Println()
	allOK := true

	fmt.Printf("  Go version: %s ✓\n", runtime.Version())
	fmt.Printf("  Platform:   %s/%s ✓\n", runtime.GOOS, runtime.GOARCH)

	cfg, err := config.Load(configDir())
	if err != nil {
		fmt.Printf("  Config:     INVALID (%s) ✗\n", err)
		fmt.Println("    → Fix tidemark.yaml")
		return fmt.Errorf("environment check failed")
	}
	fmt.Printf("  Config:     %s v%s ✓\n", cfg.Name, cfg.Version)

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		fmt.Printf("  Database:   FAILED (%s) ✗\n", err)
		allOK = false
	} else {
		fmt.Printf("  Database:   %s ✓\n", cfg.Storage.Path)
		st.Close()
	}

	if cfg.Embedding.URL == "" {
		fmt.Println("  Gateway:    not configured (keyword-only mode)")
	} else {
		gw := embedding.NewGateway(cfg.Embedding.URL, 5*time.Second, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := gw.EmbedQuery(ctx, "doctor probe"); err != nil {
			fmt.Printf("  Gateway:    UNREACHABLE (%s) ✗\n", cfg.Embedding.URL)
			allOK = false
		} else {
			fmt.Printf("  Gateway:    %s ✓\n", cfg.Embedding.URL)
		}
	}

	fmt.Printf("  Sweep:      daily at %02d:00, batch %d ✓\n", cfg.Sweep.Hour, cfg.Sweep.BatchSize)

	fmt.Println()
	if !allOK {
		return fmt.Errorf("environment check failed")
	}
	fmt.Println("All checks passed.")
	return nil
}
