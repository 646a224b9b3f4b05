package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quickmart-labs/voicecart-core/internal/agent"
	"github.com/quickmart-labs/voicecart-core/internal/bus"
	"github.com/quickmart-labs/voicecart-core/internal/catalog"
	"github.com/quickmart-labs/voicecart-core/internal/config"
	"github.com/quickmart-labs/voicecart-core/internal/journal"
	"github.com/quickmart-labs/voicecart-core/internal/natsserver"
	"github.com/quickmart-labs/voicecart-core/internal/order"
	"github.com/quickmart-labs/voicecart-core/internal/presence"
	"github.com/quickmart-labs/voicecart-core/internal/synth"
)

// Runtime wires the embedded bus, the command surface, the synthesis
// bridge and the HTTP control plane into one process.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	embedded  *natsserver.EmbeddedServer
	busClient *bus.Client
	journal   *journal.Store
	registry  *presence.Registry
	synthSvc  *synth.Service
	agentSvc  *agent.Service
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	r.embedded = embedded

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		r.shutdownServices()
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.busClient = busClient

	ix, err := catalog.Load(r.cfg.Catalog.Path, r.logger)
	if err != nil {
		r.shutdownServices()
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	store, err := journal.Open(ctx, r.cfg.Journal, r.logger)
	if err != nil {
		r.shutdownServices()
		return fmt.Errorf("failed to open journal: %w", err)
	}
	r.journal = store

	writer := order.NewFileWriter(r.cfg.Orders.Dir, r.logger)

	if r.cfg.Synthesis.Enabled {
		backend, err := synth.NewSynthesizer(r.cfg.Synthesis, r.logger)
		if err != nil {
			r.shutdownServices()
			return fmt.Errorf("failed to initialize synthesizer: %w", err)
		}
		r.synthSvc = synth.NewService(ctx, r.cfg.Synthesis, busClient, backend, r.logger)
		if err := r.synthSvc.Start(); err != nil {
			r.shutdownServices()
			return fmt.Errorf("failed to start synthesis service: %w", err)
		}
	}

	r.agentSvc = agent.NewService(ctx, r.cfg.Agent, busClient, ix, writer, store, r.logger)
	if err := r.agentSvc.Start(); err != nil {
		r.shutdownServices()
		return fmt.Errorf("failed to start agent service: %w", err)
	}

	registry, err := presence.NewRegistry(ctx, r.cfg.Node, busClient, r.logger)
	if err != nil {
		r.shutdownServices()
		return fmt.Errorf("failed to start presence registry: %w", err)
	}
	r.registry = registry

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/nodes", r.handleNodes)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.Int("catalog_items", ix.Len()))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	r.shutdownServices()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// shutdownServices tears services down in reverse start order.
func (r *Runtime) shutdownServices() {
	r.ready.Store(false)
	if r.registry != nil {
		r.registry.Close()
		r.registry = nil
	}
	if r.agentSvc != nil {
		r.agentSvc.Close()
		r.agentSvc = nil
	}
	if r.synthSvc != nil {
		r.synthSvc.Close()
		r.synthSvc = nil
	}
	if r.journal != nil {
		if err := r.journal.Close(); err != nil {
			r.logger.Warn("journal close error", slog.String("error", err.Error()))
		}
		r.journal = nil
	}
	if r.busClient != nil {
		r.busClient.Close()
		r.busClient = nil
	}
	if r.embedded != nil {
		r.embedded.Shutdown()
		r.embedded = nil
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	healthy := r.busClient.Healthy()
	if r.agentSvc != nil {
		healthy = healthy && r.agentSvc.Healthy()
	}
	if r.synthSvc != nil {
		healthy = healthy && r.synthSvc.Healthy()
	}
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("unhealthy"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleNodes(w http.ResponseWriter, _ *http.Request) {
	if r.registry == nil {
		http.Error(w, "registry unavailable", http.StatusServiceUnavailable)
		return
	}
	nodes := r.registry.Query(nil)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(nodes); err != nil {
		r.logger.Warn("failed to encode nodes", slog.String("error", err.Error()))
	}
}
