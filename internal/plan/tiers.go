package plan

// Tier names, ordered from smallest to largest.
const (
	TierSurface = "surface"
	TierTide    = "tide"
	TierAbyss   = "abyss"
)

// Tier bundles the ceilings and feature gates of one plan level.
type Tier struct {
	Name                  string
	ProjectsLimit         int64
	AgentsPerProjectLimit int64
	TokensLimit           int64
	SearchesLimit         int64
	EmbeddingsEnabled     bool
}

var tiers = map[string]Tier{
	TierSurface: {
		Name:                  TierSurface,
		ProjectsLimit:         2,
		AgentsPerProjectLimit: 2,
		TokensLimit:           50_000,
		SearchesLimit:         500,
		EmbeddingsEnabled:     false,
	},
	TierTide: {
		Name:                  TierTide,
		ProjectsLimit:         10,
		AgentsPerProjectLimit: 10,
		TokensLimit:           1_000_000,
		SearchesLimit:         10_000,
		EmbeddingsEnabled:     true,
	},
	TierAbyss: {
		Name:                  TierAbyss,
		ProjectsLimit:         100,
		AgentsPerProjectLimit: 100,
		TokensLimit:           20_000_000,
		SearchesLimit:         200_000,
		EmbeddingsEnabled:     true,
	},
}

// TierByName returns the tier definition for a name.
func TierByName(name string) (Tier, bool) {
	t, ok := tiers[name]
	return t, ok
}

// DefaultTier is the tier assigned to organizations without a ledger entry.
func DefaultTier() Tier {
	return tiers[TierSurface]
}

// TierNames returns the known tier names, smallest first.
func TierNames() []string {
	return []string{TierSurface, TierTide, TierAbyss}
}
