package providers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
)

// Registry holds the configured LLM clients. It supports config-driven
// instantiation and hot-reload, and provides thread-safe access.
type Registry struct {
	mu         sync.RWMutex
	llmClients map[string]LLMClient
	configs    map[string]LLMProviderConfig
	defaultLLM string
	logger     *slog.Logger
}

// RegistryConfig defines the providers to instantiate from config.
type RegistryConfig struct {
	// Default names the client Default returns.
	Default string

	// LLMProviders maps provider names to their config
	LLMProviders map[string]LLMProviderConfig
}

// LLMProviderConfig matches config.LLMProviderCfg with a resolved API key.
type LLMProviderConfig struct {
	Type      string // "openai", "vertex", "mock"
	Model     string
	APIKey    string
	BaseURL   string
	ProjectID string
	Region    string
	RateLimit int // Requests per minute
	Enabled   bool
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		llmClients: make(map[string]LLMClient),
		configs:    make(map[string]LLMProviderConfig),
		logger:     slog.Default(),
	}
}

// NewRegistryFromConfig creates a registry holding every enabled provider
// in cfg. Providers that fail to initialize are logged and skipped.
func NewRegistryFromConfig(ctx context.Context, cfg RegistryConfig, logger *slog.Logger) *Registry {
	r := NewRegistry()
	if logger != nil {
		r.logger = logger
	}
	r.Reload(ctx, cfg)
	return r
}

// RegisterLLM registers an LLM client by name.
func (r *Registry) RegisterLLM(name string, client LLMClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llmClients[name] = client
	if r.defaultLLM == "" {
		r.defaultLLM = name
	}
	r.logger.Info("registered LLM client", "name", name)
}

// GetLLM returns an LLM client by name.
func (r *Registry) GetLLM(name string) (LLMClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.llmClients[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return client, nil
}

// Default returns the default LLM client.
func (r *Registry) Default() (LLMClient, error) {
	r.mu.RLock()
	name := r.defaultLLM
	r.mu.RUnlock()
	if name == "" {
		return nil, fmt.Errorf("%w: no default LLM", ErrProviderNotFound)
	}
	return r.GetLLM(name)
}

// ListLLM returns all registered LLM client names, sorted.
func (r *Registry) ListLLM() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.llmClients))
	for name := range r.llmClients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reload updates the registry based on new configuration. Providers that are
// no longer configured are unregistered (and closed if they hold a
// connection); providers with changed settings are recreated.
func (r *Registry) Reload(ctx context.Context, cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[string]bool)
	for name, provCfg := range cfg.LLMProviders {
		if !provCfg.Enabled {
			continue
		}
		want[name] = true
		existing, has := r.llmClients[name]
		if has && r.configs[name] == provCfg {
			continue
		}
		client, err := createLLMClient(ctx, provCfg)
		if err != nil {
			r.logger.Warn("LLM client not created", "name", name, "type", provCfg.Type, "error", err)
			continue
		}
		if has {
			closeClient(existing)
			r.logger.Info("updated LLM client", "name", name, "type", provCfg.Type)
		} else {
			r.logger.Info("registered LLM client", "name", name, "type", provCfg.Type)
		}
		r.llmClients[name] = client
		r.configs[name] = provCfg
	}

	for name, client := range r.llmClients {
		if !want[name] {
			closeClient(client)
			delete(r.llmClients, name)
			delete(r.configs, name)
			r.logger.Info("unregistered LLM client", "name", name)
		}
	}

	r.defaultLLM = cfg.Default
	if _, ok := r.llmClients[r.defaultLLM]; !ok {
		r.defaultLLM = ""
		if keys := sortedKeys(r.llmClients); len(keys) > 0 {
			r.defaultLLM = keys[0]
		}
	}
}

// Close closes every client that holds a connection.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.llmClients {
		closeClient(c)
	}
}

func createLLMClient(ctx context.Context, cfg LLMProviderConfig) (LLMClient, error) {
	switch cfg.Type {
	case OpenAIName:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: openai needs an api key", ErrNotConfigured)
		}
		return NewOpenAIClient(OpenAIConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			RPM:          cfg.RateLimit,
		}), nil
	case VertexName:
		return NewVertexClient(ctx, VertexConfig{
			ProjectID:    cfg.ProjectID,
			Region:       cfg.Region,
			DefaultModel: cfg.Model,
			RPM:          cfg.RateLimit,
		})
	case MockClientName:
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}

func closeClient(c LLMClient) {
	if closer, ok := c.(io.Closer); ok {
		closer.Close()
	}
}

func sortedKeys(m map[string]LLMClient) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DefaultClient returns a client that resolves the registry default on every
// call, so callers holding it follow config reloads.
func (r *Registry) DefaultClient() LLMClient {
	return defaultClient{r: r}
}

type defaultClient struct {
	r *Registry
}

func (c defaultClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	client, err := c.r.Default()
	if err != nil {
		return nil, err
	}
	return client.Chat(ctx, req)
}

func (c defaultClient) Name() string {
	client, err := c.r.Default()
	if err != nil {
		return "none"
	}
	return client.Name()
}
