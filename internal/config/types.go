package config

// Config is the top-level tidemark service configuration,
// loaded from tidemark.yaml.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Sweep     SweepConfig     `yaml:"sweep"`
	Search    SearchConfig    `yaml:"search"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Events    EventsConfig    `yaml:"events"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig controls the SQLite database location.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// EmbeddingConfig controls the embedding gateway client.
// An empty URL disables embeddings entirely (keyword-only mode).
type EmbeddingConfig struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// SweepConfig controls the retention sweeper schedule.
type SweepConfig struct {
	Hour      int `yaml:"hour"`       // UTC hour of day for the daily run (0-23)
	BatchSize int `yaml:"batch_size"` // max deletions per project per run
}

// SearchConfig controls retrieval bounds.
type SearchConfig struct {
	ScanLimit int `yaml:"scan_limit"` // working-set ceiling, clamped to [100, 20000]
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// MetricsConfig controls the JSONL metrics export.
type MetricsConfig struct {
	Path string `yaml:"path"`
}

// EventsConfig controls lifecycle event delivery to external consumers.
// An empty webhook URL disables delivery.
type EventsConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}
