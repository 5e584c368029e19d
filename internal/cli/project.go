package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/tidemark-oss/tidemark/internal/config"
	"github.com/tidemark-oss/tidemark/internal/plan"
	"github.com/tidemark-oss/tidemark/internal/store"
)

var (
	projectOrgID     string
	projectOrgName   string
	projectName      string
	projectRetention string
	projectTypes     string
	projectSessions  bool
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a project",
	Long: `Create a project under an organization. Pass --org with an existing
organization id, or --org-name to create a new organization.`,
	RunE: runProjectAdd,
}

func init() {
	projectAddCmd.Flags().StringVar(&projectOrgID, "org", "", "existing organization id")
	projectAddCmd.Flags().StringVar(&projectOrgName, "org-name", "", "create a new organization with this name")
	projectAddCmd.Flags().StringVar(&projectName, "name", "", "project name (required)")
	projectAddCmd.Flags().StringVar(&projectRetention, "retention", store.RetentionForever,
		"retention policy: forever, 1y, 6m, 90d, 30d")
	projectAddCmd.Flags().StringVar(&projectTypes, "types", "",
		"comma-separated memory type allow-list (empty = unrestricted)")
	projectAddCmd.Flags().BoolVar(&projectSessions, "sessions", true, "enable session logging")
	projectAddCmd.MarkFlagRequired("name")

	projectCmd.AddCommand(projectAddCmd)
}

func runProjectAdd(cmd *cobra.Command, args []string) error {
	if projectOrgID == "" && projectOrgName == "" {
		return fmt.Errorf("either --org or --org-name is required")
	}
	if !store.ValidRetention(projectRetention) {
		return fmt.Errorf("unknown retention policy %q", projectRetention)
	}

	cfg, err := config.Load(configDir())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	orgID := projectOrgID
	if orgID == "" {
		org := &store.Organization{
			ID:        uuid.New().String(),
			Name:      projectOrgName,
			CreatedAt: time.Now().UTC(),
		}
		if err := st.CreateOrganization(org); err != nil {
			return fmt.Errorf("failed to create organization: %w", err)
		}
		orgID = org.ID
		fmt.Printf("Organization: %s (%s)\n", org.Name, org.ID)
	} else {
		org, err := st.GetOrganization(orgID)
		if err != nil {
			return err
		}
		if org == nil {
			return fmt.Errorf("organization %s not found", orgID)
		}
	}

	if err := plan.NewService(st, nil, nil, nil).AuthorizeProjectCreate(orgID); err != nil {
		return err
	}

	var types []string
	if projectTypes != "" {
		for _, t := range strings.Split(projectTypes, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
	}

	p := &store.Project{
		ID:                    uuid.New().String(),
		OrganizationID:        orgID,
		Name:                  projectName,
		MemoryTypes:           types,
		MemoryRetention:       projectRetention,
		SessionLoggingEnabled: projectSessions,
		CreatedAt:             time.Now().UTC(),
	}
	if err := st.CreateProject(p); err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	fmt.Printf("Project:      %s (%s)\n", p.Name, p.ID)
	fmt.Printf("Retention:    %s\n", p.MemoryRetention)
	if len(types) > 0 {
		fmt.Printf("Memory types: %s\n", strings.Join(types, ", "))
	}
	return nil
}
