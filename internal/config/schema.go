package config

import "time"

// Config holds underwrite configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Server       ServerCfg                 `mapstructure:"server" yaml:"server"`
	Store        StoreCfg                  `mapstructure:"store" yaml:"store"`
	Pipeline     PipelineCfg               `mapstructure:"pipeline" yaml:"pipeline"`
	Hub          HubCfg                    `mapstructure:"hub" yaml:"hub"`
	LLM          LLMCfg                    `mapstructure:"llm" yaml:"llm"`
	LLMProviders map[string]LLMProviderCfg `mapstructure:"llm_providers" yaml:"llm_providers"`
	Attachments  AttachmentsCfg            `mapstructure:"attachments" yaml:"attachments"`
}

// ServerCfg is the HTTP listener.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
}

// StoreCfg selects the durable backend behind the document store.
type StoreCfg struct {
	Backend   string       `mapstructure:"backend" yaml:"backend"` // "defra", "firestore", "memory"
	Defra     DefraConfig  `mapstructure:"defra" yaml:"defra"`
	Firestore FirestoreCfg `mapstructure:"firestore" yaml:"firestore"`
}

// DefraConfig holds DefraDB container configuration.
type DefraConfig struct {
	// ContainerName is the Docker container name (default: underwrite-defra)
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	// Image is the Docker image to use (default: sourcenetwork/defradb:latest)
	Image string `mapstructure:"image" yaml:"image"`
	// Port is the host port to bind (default: 9181)
	Port string `mapstructure:"port" yaml:"port"`
}

// FirestoreCfg points the store at a Firestore collection.
type FirestoreCfg struct {
	ProjectID  string `mapstructure:"project_id" yaml:"project_id"`
	Collection string `mapstructure:"collection" yaml:"collection"`
}

// PipelineCfg tunes the execution engine and its worker pool.
type PipelineCfg struct {
	StageTimeout time.Duration `mapstructure:"stage_timeout" yaml:"stage_timeout"`
	LockTimeout  time.Duration `mapstructure:"lock_timeout" yaml:"lock_timeout"`
	Workers      int           `mapstructure:"workers" yaml:"workers"`
	QueueSize    int           `mapstructure:"queue_size" yaml:"queue_size"`
	LockRetries  uint          `mapstructure:"lock_retries" yaml:"lock_retries"`
}

// HubCfg tunes live subscriptions.
type HubCfg struct {
	OutboxSize      int      `mapstructure:"outbox_size" yaml:"outbox_size"`
	DefaultPageSize int      `mapstructure:"default_page_size" yaml:"default_page_size"`
	MaxPageSize     int      `mapstructure:"max_page_size" yaml:"max_page_size"`
	AllowedOrigins  []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// LLMCfg picks the provider and model the stages run on.
type LLMCfg struct {
	Provider    string  `mapstructure:"provider" yaml:"provider"` // key into llm_providers
	Model       string  `mapstructure:"model" yaml:"model"`       // overrides the provider model when set
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
}

// LLMProviderCfg configures an LLM provider.
type LLMProviderCfg struct {
	Type      string `mapstructure:"type" yaml:"type"`         // "openai", "vertex", "mock"
	Model     string `mapstructure:"model" yaml:"model"`       // Model name
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`   // API key (supports ${ENV_VAR} syntax)
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"` // OpenAI-compatible endpoint
	ProjectID string `mapstructure:"project_id" yaml:"project_id"`
	Region    string `mapstructure:"region" yaml:"region"`
	RateLimit int    `mapstructure:"rate_limit" yaml:"rate_limit"` // Requests per minute
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
}

// AttachmentsCfg selects where uploaded attachments are kept.
type AttachmentsCfg struct {
	Backend        string `mapstructure:"backend" yaml:"backend"` // "local", "gcs"
	Bucket         string `mapstructure:"bucket" yaml:"bucket"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerCfg{Host: "127.0.0.1", Port: "8080"},
		Store: StoreCfg{
			Backend: "defra",
			Defra: DefraConfig{
				ContainerName: "underwrite-defra",
				Image:         "sourcenetwork/defradb:latest",
				Port:          "9181",
			},
			Firestore: FirestoreCfg{Collection: "emails"},
		},
		Pipeline: PipelineCfg{
			StageTimeout: 2 * time.Minute,
			LockTimeout:  5 * time.Second,
			Workers:      4,
			QueueSize:    1000,
			LockRetries:  5,
		},
		Hub: HubCfg{
			OutboxSize:      64,
			DefaultPageSize: 20,
			MaxPageSize:     100,
		},
		LLM: LLMCfg{Provider: "openai"},
		LLMProviders: map[string]LLMProviderCfg{
			"openai": {
				Type:      "openai",
				Model:     "gpt-4o",
				APIKey:    "${OPENAI_API_KEY}",
				RateLimit: 60,
				Enabled:   true,
			},
			"vertex": {
				Type:      "vertex",
				Model:     "gemini-1.5-pro",
				ProjectID: "${GOOGLE_CLOUD_PROJECT}",
				Region:    "us-central1",
				RateLimit: 60,
				Enabled:   false,
			},
		},
		Attachments: AttachmentsCfg{
			Backend:        "local",
			MaxUploadBytes: 5 << 20,
		},
	}
}

// GetLLMProvider returns an LLM provider config by name.
func (c *Config) GetLLMProvider(name string) (LLMProviderCfg, bool) {
	cfg, ok := c.LLMProviders[name]
	return cfg, ok
}

// EnabledLLMProviders returns all enabled LLM providers.
func (c *Config) EnabledLLMProviders() map[string]LLMProviderCfg {
	result := make(map[string]LLMProviderCfg)
	for name, cfg := range c.LLMProviders {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}

// Addr is the host:port the server listens on.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}
