package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/jackzampolin/underwrite/docs"
	"github.com/jackzampolin/underwrite/internal/api"
	"github.com/jackzampolin/underwrite/internal/blob"
	"github.com/jackzampolin/underwrite/internal/config"
	"github.com/jackzampolin/underwrite/internal/defra"
	"github.com/jackzampolin/underwrite/internal/engine"
	"github.com/jackzampolin/underwrite/internal/hub"
	"github.com/jackzampolin/underwrite/internal/ingest"
	"github.com/jackzampolin/underwrite/internal/metrics"
	"github.com/jackzampolin/underwrite/internal/providers"
	"github.com/jackzampolin/underwrite/internal/schema"
	"github.com/jackzampolin/underwrite/internal/server/endpoints"
	"github.com/jackzampolin/underwrite/internal/store"
	"github.com/jackzampolin/underwrite/internal/store/defrastore"
	"github.com/jackzampolin/underwrite/internal/store/fsstore"
	"github.com/jackzampolin/underwrite/internal/svcctx"
	"github.com/jackzampolin/underwrite/internal/underwriting"
)

// Server is the main underwrite HTTP server.
// With the defra store backend it also manages the DefraDB container,
// starting it on server start and stopping it on shutdown.
type Server struct {
	httpServer   *http.Server
	defraManager *defra.DockerManager
	defraClient  *defra.Client
	sink         *defra.Sink
	registry     *providers.Registry
	configMgr    *config.Manager
	logger       *slog.Logger

	llm             providers.LLMClient
	attachmentsPath string
	backend         store.Backend
	blobs           blob.Store

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	ready chan struct{}

	mu      sync.RWMutex
	running bool
	addr    string
}

// Config holds server configuration.
type Config struct {
	// ConfigManager provides configuration with hot-reload support. Required.
	ConfigManager *config.Manager
	// DefraDataPath is the path to persist DefraDB data
	DefraDataPath string
	// AttachmentsPath is where the local blob backend keeps attachments.
	AttachmentsPath string
	// LLM, when set, answers every stage instead of the provider registry.
	LLM providers.LLMClient
	// Backend, when set, replaces the configured store backend.
	Backend store.Backend
	// Blobs, when set, replaces the configured attachment backend.
	Blobs blob.Store
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.ConfigManager == nil {
		return nil, errors.New("config manager is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := cfg.ConfigManager.Get()

	var defraManager *defra.DockerManager
	if cfg.Backend == nil && c.Store.Backend == "defra" {
		var err error
		defraManager, err = defra.NewDockerManager(defra.DockerConfig{
			ContainerName: c.Store.Defra.ContainerName,
			Image:         c.Store.Defra.Image,
			DataPath:      cfg.DefraDataPath,
			HostPort:      c.Store.Defra.Port,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create defra manager: %w", err)
		}
	}

	s := &Server{
		defraManager:    defraManager,
		registry:        providers.NewRegistryFromConfig(context.Background(), c.ToProviderRegistryConfig(), cfg.Logger),
		configMgr:       cfg.ConfigManager,
		logger:          cfg.Logger,
		llm:             cfg.LLM,
		attachmentsPath: cfg.AttachmentsPath,
		backend:         cfg.Backend,
		blobs:           cfg.Blobs,
		ready:           make(chan struct{}),
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{DefraManager: defraManager}) {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server. No write timeout: feeds are long-lived.
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:              c.Addr(),
		Handler:           s.withServices(mux),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s, nil
}

// Start brings up the store backend, loads documents, starts processing and
// serves HTTP. It blocks until ctx is cancelled or a component fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()
	defer s.setNotRunning()

	c := s.configMgr.Get()

	backend, err := s.openBackend(ctx, c)
	if err != nil {
		s.stopDefra()
		return err
	}
	defer s.stopDefra()

	blobs, err := s.openBlobs(ctx, c)
	if err != nil {
		return err
	}

	llm := s.llm
	if llm == nil {
		llm = s.registry.DefaultClient()
	}
	table, err := underwriting.NewTable(underwriting.Config{
		LLM:         llm,
		Model:       c.LLM.Model,
		Temperature: c.LLM.Temperature,
		Logger:      s.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build stage table: %w", err)
	}

	st, err := store.New(store.Config{StageCount: table.Len(), Backend: backend, Logger: s.logger})
	if err != nil {
		return err
	}
	defer st.Close()

	resume, err := st.Load(ctx)
	if err != nil {
		return err
	}

	rec := metrics.NewRecorder(s.sink, s.logger)
	project := underwriting.Projector(table)
	h := hub.New(hub.Config{
		Store:           st,
		Project:         project,
		OutboxSize:      c.Hub.OutboxSize,
		DefaultPageSize: c.Hub.DefaultPageSize,
		MaxPageSize:     c.Hub.MaxPageSize,
		AllowedOrigins:  c.Hub.AllowedOrigins,
		Logger:          s.logger,
	})
	eng, err := engine.New(engine.Config{
		Table:        table,
		Store:        st,
		StageTimeout: c.Pipeline.StageTimeout,
		LockTimeout:  c.Pipeline.LockTimeout,
		Logger:       s.logger,
		Notifier:     h,
		Metrics:      rec,
		Review:       underwriting.Review,
	})
	if err != nil {
		return err
	}
	runner := engine.NewRunner(eng, engine.RunnerConfig{
		Workers:     c.Pipeline.Workers,
		QueueSize:   c.Pipeline.QueueSize,
		LockRetries: c.Pipeline.LockRetries,
		Logger:      s.logger,
	})
	h.Attach(runner)

	ing, err := ingest.New(ingest.Config{Store: st, Blobs: blobs, Queue: runner, Logger: s.logger})
	if err != nil {
		return err
	}

	s.configMgr.OnChange(func(c *config.Config) {
		s.registry.Reload(context.Background(), c.ToProviderRegistryConfig())
		eng.SetStageTimeout(c.Pipeline.StageTimeout)
		h.SetDefaultPageSize(c.Hub.DefaultPageSize)
		s.logger.Info("configuration applied")
	})

	s.mu.Lock()
	s.services = &svcctx.Services{
		Store:       st,
		Runner:      runner,
		Hub:         h,
		Ingest:      ing,
		Registry:    s.registry,
		Metrics:     rec,
		Config:      s.configMgr,
		Logger:      s.logger,
		DefraClient: s.defraClient,
		Project:     project,
	}
	s.mu.Unlock()

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	if s.sink != nil {
		s.sink.Start(gctx)
		defer s.sink.Stop()
	}
	g.Go(func() error { return runner.Start(gctx) })
	g.Go(func() error { return h.Run(gctx) })
	g.Go(func() error {
		s.logger.Info("starting HTTP server", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("HTTP server shutdown error", "error", err)
		}
		return nil
	})

	runner.Resume(resume)
	close(s.ready)

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	s.logger.Info("server stopped")
	return err
}

// openBackend prepares the configured store backend. For defra this starts
// the container and initializes the schema.
func (s *Server) openBackend(ctx context.Context, c *config.Config) (store.Backend, error) {
	if s.backend != nil {
		return s.backend, nil
	}
	switch c.Store.Backend {
	case "memory":
		s.logger.Warn("using the memory store backend; documents are lost on restart")
		return nil, nil
	case "firestore":
		b, err := fsstore.New(ctx, fsstore.Config{
			ProjectID:  config.ResolveEnvVars(c.Store.Firestore.ProjectID),
			Collection: c.Store.Firestore.Collection,
			Logger:     s.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open firestore: %w", err)
		}
		return b, nil
	}

	s.logger.Info("starting DefraDB")
	if err := s.defraManager.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start DefraDB: %w", err)
	}
	if err := s.defraManager.WaitReady(ctx, 60*time.Second); err != nil {
		return nil, fmt.Errorf("DefraDB did not become ready: %w", err)
	}

	client := defra.NewClient(s.defraManager.URL())
	if err := client.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("DefraDB health check failed: %w", err)
	}
	s.logger.Info("DefraDB is ready", "url", s.defraManager.URL())

	s.logger.Info("initializing schemas")
	if err := schema.Initialize(ctx, client, s.logger); err != nil {
		return nil, fmt.Errorf("schema initialization failed: %w", err)
	}

	s.defraClient = client
	s.sink = defra.NewSink(defra.SinkConfig{Client: client, Logger: s.logger})
	return defrastore.New(client, s.logger), nil
}

func (s *Server) openBlobs(ctx context.Context, c *config.Config) (blob.Store, error) {
	if s.blobs != nil {
		return s.blobs, nil
	}
	if c.Attachments.Backend == "gcs" {
		g, err := blob.NewGCS(ctx, c.Attachments.Bucket, "attachments")
		if err != nil {
			return nil, fmt.Errorf("failed to open attachment bucket: %w", err)
		}
		return g, nil
	}
	if s.attachmentsPath == "" {
		return nil, nil
	}
	local, err := blob.NewLocal(s.attachmentsPath)
	if err != nil {
		return nil, err
	}
	return local, nil
}

// stopDefra stops the container if this server started it.
func (s *Server) stopDefra() {
	if s.defraManager == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.Info("stopping DefraDB")
	if err := s.defraManager.Stop(ctx); err != nil {
		s.logger.Error("DefraDB stop error", "error", err)
	}
	if err := s.defraManager.Close(); err != nil {
		s.logger.Error("DefraDB manager close error", "error", err)
	}
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Ready is closed once documents are loaded and the server is listening.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the address the server listens on, once started, or the
// configured address before that.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.addr != "" {
		return s.addr
	}
	return s.httpServer.Addr
}

// Registry returns the provider registry.
func (s *Server) Registry() *providers.Registry {
	return s.registry
}

// Services returns the wired services, or nil before Start has loaded them.
func (s *Server) Services() *svcctx.Services {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.services
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svcs := s.Services(); svcs != nil {
			ctx = svcctx.WithServices(ctx, svcs)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable until documents are loaded.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Services() == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
