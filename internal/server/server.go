// Package server orchestrates all components: COMMS client, DB journal, call core, dispatcher, transports, HTTP health.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/morezero/callcore/internal/config"
	"github.com/morezero/callcore/internal/logging"
	"github.com/morezero/callcore/internal/services"
	"github.com/morezero/callcore/pkg/call"
	"github.com/morezero/callcore/pkg/commsutil"
	"github.com/morezero/callcore/pkg/component"
	"github.com/morezero/callcore/pkg/db"
	"github.com/morezero/callcore/pkg/dispatcher"
	"github.com/morezero/callcore/pkg/events"
	"github.com/morezero/callcore/pkg/filter"
	"github.com/morezero/callcore/pkg/metrics"
	"github.com/morezero/callcore/pkg/observability"
	"github.com/morezero/callcore/pkg/serializer"
	"github.com/morezero/callcore/pkg/transport"
	"github.com/morezero/callcore/pkg/transport/grpcrpc"
	"github.com/morezero/callcore/pkg/transport/httprpc"
	"github.com/morezero/callcore/pkg/transport/jsonrpc"
	"github.com/morezero/callcore/pkg/transport/natsrpc"
)

const logPrefix = "server:server"

// JSONRPCPath is where the JSON-RPC 2.0 endpoint is mounted.
const JSONRPCPath = "/jsonrpc"

// Server is the callcore orchestrator.
type Server struct {
	cfg     *config.Config
	started time.Time

	nc      *comms.Conn
	pool    *pgxpool.Pool
	redis   *redis.Client
	journal *db.Journal
	metrics *metrics.Metrics

	dispatcher *dispatcher.Dispatcher
	core       *call.Call
	servant    *transport.Servant

	rpcServer  *natsrpc.Server
	httpServer *http.Server
	grpcServer *grpc.Server

	ready    chan struct{}
	mu       sync.RWMutex
	httpAddr string
	grpcAddr string
}

// Run loads config, starts the server, blocks until a shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}
	logging.Setup(cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	return s.Serve(ctx)
}

// New builds every component the config enables. Resources opened before a
// failing step are released.
func New(ctx context.Context, cfg *config.Config) (_ *Server, err error) {
	slog.Info(fmt.Sprintf("%s - Starting %s", logPrefix, cfg.COMMSName))

	s := &Server{cfg: cfg, started: time.Now(), ready: make(chan struct{})}
	defer func() {
		if err != nil {
			s.release(context.Background())
		}
	}()

	// Step 1: Tracing
	if err := observability.Init(ctx, observability.Config{
		Enabled:     cfg.OTELEnabled,
		Exporter:    cfg.OTELExporter,
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.COMMSName,
		SampleRate:  cfg.OTELSampleRate,
	}); err != nil {
		return nil, fmt.Errorf("%s - failed to init telemetry: %w", logPrefix, err)
	}

	// Step 2: Connect to COMMS
	if cfg.COMMSURL != "" {
		nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
		}
		s.nc = nc
	} else {
		slog.Info(fmt.Sprintf("%s - COMMS_URL not set, COMMS transport disabled", logPrefix))
	}

	// Step 3: Connect to database and run migrations if enabled
	if cfg.DatabaseURL != "" && (cfg.JournalEnabled || cfg.RunMigrations) {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
		}
		s.pool = pool

		if cfg.RunMigrations {
			files, err := db.LoadMigrationFiles(cfg.MigrationPath)
			if err != nil {
				return nil, fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
			}
			if err := db.RunMigrations(ctx, pool, files); err != nil {
				return nil, fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
			}
		}
	}

	// Step 4: Redis for the distributed rate limiter
	if cfg.RedisAddr != "" {
		s.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		slog.Info(fmt.Sprintf("%s - Redis client configured for %s", logPrefix, cfg.RedisAddr))
	}

	// Step 5: Filters and serializers
	filters, err := filter.NewRegistry(filter.Deps{Redis: s.redis}).Build(cfg.FilterNames(), component.ParseProps(cfg.FilterProps))
	if err != nil {
		return nil, fmt.Errorf("%s - failed to build filters: %w", logPrefix, err)
	}
	serializers, err := buildSerializers(cfg.Serializer)
	if err != nil {
		return nil, err
	}

	// Step 6: Dispatcher with built-in services
	s.dispatcher = dispatcher.NewDispatcher()
	if err := services.Register(s.dispatcher, services.SystemDeps{
		Host:    hostname(cfg),
		Started: s.started,
		Report:  s.Report,
	}); err != nil {
		return nil, fmt.Errorf("%s - failed to register services: %w", logPrefix, err)
	}

	// Step 7: Observers
	s.metrics = metrics.New(cfg.MetricsNamespace, nil, metrics.WithServiceResolver(s.dispatcher.Lookup))
	opts := []call.Option{
		call.WithFilters(filters...),
		call.WithPoolConfig(cfg.PoolConfig()),
		call.WithAsyncTimeout(cfg.AsyncTimeout),
		call.WithContextRequired(cfg.RequireContext),
		call.WithTracer(observability.Tracer()),
		call.WithObserver(s.metrics),
	}
	if cfg.Host != "" {
		opts = append(opts, call.WithHost(cfg.Host))
	}
	if cfg.JournalEnabled && s.pool != nil {
		s.journal = db.NewJournal(db.NewRepository(s.pool), db.JournalOptions{})
		opts = append(opts, call.WithObserver(s.journal))
	}
	if cfg.EventsEnabled && s.nc != nil {
		publisher := events.NewCommsPublisher(s.nc, &events.CommsPublisherOpts{GlobalSubject: cfg.EventsSubject})
		opts = append(opts, call.WithObserver(events.NewObserver(publisher, cfg.EventsOnlyFails)))
	}

	// Step 8: Call core
	core, err := call.New(s.dispatcher, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create call core: %w", logPrefix, err)
	}
	s.core = core
	if err := s.metrics.RegisterPool(cfg.MetricsNamespace, core.Pool()); err != nil {
		return nil, fmt.Errorf("%s - failed to register pool metrics: %w", logPrefix, err)
	}
	for _, line := range core.Report().Lines() {
		slog.Info(fmt.Sprintf("%s - %s", logPrefix, line))
	}

	// Step 9: Transports
	s.servant = transport.NewServant(core, cfg.Host, serializers...)

	if s.nc != nil {
		s.rpcServer = natsrpc.NewServer(s.nc, s.servant, natsrpc.ServerOptions{
			SubjectPrefix:  cfg.SubjectPrefix,
			QueueGroup:     cfg.QueueGroup,
			RequestTimeout: cfg.RequestTimeout,
		})
		if err := s.rpcServer.Serve(s.dispatcher.ServiceIDs()...); err != nil {
			return nil, fmt.Errorf("%s - failed to serve over COMMS: %w", logPrefix, err)
		}
	}

	handler, err := s.Handler()
	if err != nil {
		return nil, err
	}
	s.httpServer = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.GRPCPort > 0 {
		s.grpcServer = grpcrpc.NewGRPCServer(s.servant)
	}

	return s, nil
}

func buildSerializers(name string) ([]serializer.Serializer, error) {
	reg := serializer.NewRegistry()
	def, err := reg.New(name, nil)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to build serializer: %w", logPrefix, err)
	}
	out := []serializer.Serializer{def}
	for _, n := range reg.Names() {
		if n == name {
			continue
		}
		s, err := reg.New(n, nil)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to build serializer: %w", logPrefix, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// Handler returns the HTTP routes: RPC, JSON-RPC, metrics, health, report and the home page.
func (s *Server) Handler() (http.Handler, error) {
	rpc, err := jsonrpc.NewHandler(s.servant)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create JSON-RPC handler: %w", logPrefix, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome())
	mux.Handle(httprpc.DefaultBasePath+"/", httprpc.NewHandler(s.servant, httprpc.DefaultBasePath, httprpc.WithMaxBodyBytes(s.maxBodyBytes())))
	mux.Handle(JSONRPCPath, http.MaxBytesHandler(rpc, s.maxBodyBytes()))
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	mux.HandleFunc("/report", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Report())
	})
	return mux, nil
}

func (s *Server) maxBodyBytes() int64 {
	if s.cfg.HTTPMaxBodyBytes > 0 {
		return s.cfg.HTTPMaxBodyBytes
	}
	return httprpc.DefaultMaxBodyBytes
}

// Serve starts the listeners and blocks until ctx is done or a listener
// fails, then shuts everything down.
func (s *Server) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	httpLis, err := net.Listen("tcp", s.cfg.HTTPListenAddr())
	if err != nil {
		s.release(context.Background())
		return fmt.Errorf("%s - failed to listen on %s: %w", logPrefix, s.cfg.HTTPListenAddr(), err)
	}
	s.mu.Lock()
	s.httpAddr = httpLis.Addr().String()
	s.mu.Unlock()

	g.Go(func() error {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, httpLis.Addr()))
		if err := s.httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s - HTTP server error: %w", logPrefix, err)
		}
		return nil
	})

	if s.grpcServer != nil {
		grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.GRPCPort))
		if err != nil {
			httpLis.Close()
			s.release(context.Background())
			return fmt.Errorf("%s - failed to listen on gRPC port %d: %w", logPrefix, s.cfg.GRPCPort, err)
		}
		s.mu.Lock()
		s.grpcAddr = grpcLis.Addr().String()
		s.mu.Unlock()

		g.Go(func() error {
			slog.Info(fmt.Sprintf("%s - gRPC server listening on %s", logPrefix, grpcLis.Addr()))
			if err := s.grpcServer.Serve(grpcLis); err != nil {
				return fmt.Errorf("%s - gRPC server error: %w", logPrefix, err)
			}
			return nil
		})
	}

	close(s.ready)
	slog.Info(fmt.Sprintf("%s - %s is ready", logPrefix, s.cfg.COMMSName))

	g.Go(func() error {
		<-gctx.Done()
		slog.Info(fmt.Sprintf("%s - Shutting down", logPrefix))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		s.shutdown(shutdownCtx)
		return nil
	})

	err = g.Wait()
	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return err
}

// Ready is closed once the listeners are bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// HTTPAddr returns the bound HTTP address, empty before Serve.
func (s *Server) HTTPAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.httpAddr
}

// GRPCAddr returns the bound gRPC address, empty when gRPC is disabled.
func (s *Server) GRPCAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.grpcAddr
}

// Core returns the call core.
func (s *Server) Core() *call.Call { return s.core }

// Report returns the call core report.
func (s *Server) Report() call.Report {
	return s.core.Report()
}

func (s *Server) shutdown(ctx context.Context) {
	if s.rpcServer != nil {
		if err := s.rpcServer.Close(); err != nil {
			slog.Warn(fmt.Sprintf("%s - COMMS unsubscribe failed: %v", logPrefix, err))
		}
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Warn(fmt.Sprintf("%s - HTTP shutdown failed: %v", logPrefix, err))
	}
	if s.grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			s.grpcServer.Stop()
		}
	}
	s.release(ctx)
}

// release closes the core and the clients in reverse order of creation.
func (s *Server) release(ctx context.Context) {
	if s.core != nil {
		if err := s.core.Close(ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - call core close: %v", logPrefix, err))
		}
	}
	if s.journal != nil {
		if err := s.journal.Close(ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - journal close: %v", logPrefix, err))
		}
	}
	if s.redis != nil {
		s.redis.Close()
	}
	if s.nc != nil {
		commsutil.Drain(s.nc, s.cfg.ShutdownTimeout)
	}
	if s.pool != nil {
		s.pool.Close()
	}
	if err := observability.Shutdown(ctx); err != nil {
		slog.Warn(fmt.Sprintf("%s - telemetry shutdown: %v", logPrefix, err))
	}
}

// healthOutput is the body of /health.
type healthOutput struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) health(ctx context.Context) *healthOutput {
	h := &healthOutput{Status: "healthy", Checks: map[string]string{}, Timestamp: time.Now().UTC().Format(time.RFC3339)}

	if s.nc != nil {
		if s.nc.IsConnected() {
			h.Checks["comms"] = "ok"
		} else {
			h.Checks["comms"] = fmt.Sprintf("%v", s.nc.Status())
			h.Status = "unhealthy"
		}
	}
	if s.pool != nil {
		if err := s.pool.Ping(ctx); err != nil {
			h.Checks["database"] = err.Error()
			h.Status = "unhealthy"
		} else {
			h.Checks["database"] = "ok"
		}
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			h.Checks["redis"] = err.Error()
			h.Status = "unhealthy"
		} else {
			h.Checks["redis"] = "ok"
		}
	}
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
	defer cancel()
	h := s.health(ctx)
	status := http.StatusOK
	if h.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(fmt.Sprintf("%s - json encode: %v", logPrefix, err))
	}
}

// homePageTemplate is the HTML for the home page (white bg, black/blue text).
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{.Name}}</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    h1, h2 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    .stat { font-weight: bold; color: #0066cc; }
    section { margin-bottom: 2rem; }
  </style>
</head>
<body>
  <h1>{{.Name}}</h1>

  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    {{range $name, $check := .Health.Checks}}<p>{{$name}}: <span class="stat">{{$check}}</span></p>{{end}}
    <p>Timestamp: {{.Health.Timestamp}}</p>
  </section>

  <section>
    <h2>Core</h2>
    <p>Host: <span class="stat">{{.Report.Host}}</span></p>
    <p>Filters: {{range .Report.Filters}}{{.}} {{else}}none{{end}}</p>
    <p>Workers: <span class="stat">{{.Report.Pool.Workers}}</span>, queued {{.Report.Pool.Queued}} of {{.Report.Pool.QueueSize}}</p>
  </section>

  <section>
    <h2>Services</h2>
    <table>
      <thead>
        <tr><th>Service</th><th>Version</th><th>Methods</th></tr>
      </thead>
      <tbody>
        {{range .Services}}
        <tr><td>{{.ID}}</td><td>{{.Version}}</td><td>{{range .Methods}}{{.}} {{end}}</td></tr>
        {{end}}
      </tbody>
    </table>
  </section>
</body>
</html>
`

// homeData is the data passed to the home page template.
type homeData struct {
	Name     string
	Health   *healthOutput
	Report   call.Report
	Services []dispatcher.ServiceInfo
}

// handleHome returns an HTTP handler for the home page.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		data := homeData{
			Name:     s.cfg.COMMSName,
			Health:   s.health(ctx),
			Report:   s.Report(),
			Services: s.dispatcher.Services(),
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}

func hostname(cfg *config.Config) string {
	if cfg.Host != "" {
		return cfg.Host
	}
	h, _ := os.Hostname()
	return h
}
