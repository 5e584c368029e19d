package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tidemark-oss/tidemark/internal/config"
	"github.com/tidemark-oss/tidemark/internal/event"
	"github.com/tidemark-oss/tidemark/internal/keystore"
	"github.com/tidemark-oss/tidemark/internal/plan"
	"github.com/tidemark-oss/tidemark/internal/store"
	"github.com/tidemark-oss/tidemark/internal/telemetry"
)

var (
	keyProjectID string
	keyOwnerID   string
	keyRotate    bool
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage agent keys",
}

var keyIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue or rotate an agent key pair",
	Long: `Issue credentials for an owner's agent in a project. The plaintext
secret is printed exactly once; it cannot be recovered later.`,
	RunE: runKeyIssue,
}

func init() {
	keyIssueCmd.Flags().StringVar(&keyProjectID, "project", "", "project id (required)")
	keyIssueCmd.Flags().StringVar(&keyOwnerID, "owner", "", "owner id (required)")
	keyIssueCmd.Flags().BoolVar(&keyRotate, "rotate", false, "revoke active keys and mint a new pair")
	keyIssueCmd.MarkFlagRequired("project")
	keyIssueCmd.MarkFlagRequired("owner")

	keyCmd.AddCommand(keyIssueCmd)
}

func runKeyIssue(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configDir())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	logger := telemetry.NewLogger(verbose)
	metrics := telemetry.NewMetrics()
	plans := plan.NewService(st, logger, metrics, nil)
	keys := keystore.New(st, plans, logger, metrics, event.NewBus(logger))

	creds, err := keys.Issue(keyProjectID, keyOwnerID, keyRotate)
	if err != nil {
		return err
	}

	fmt.Printf("Agent:  %s\n", creds.AgentID)
	fmt.Printf("Key ID: %s\n", creds.KeyID)
	if creds.Secret != "" {
		fmt.Printf("Secret: %s\n", creds.Secret)
		fmt.Println("\nStore the secret now; it will not be shown again.")
	} else {
		fmt.Println("\nAn active key already exists. Use --rotate to mint a new secret.")
	}
	return nil
}
