// Package server provides the HTTP control API for profile generation.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/jonathan/profile-orchestrator/internal/bulk"
	"github.com/jonathan/profile-orchestrator/internal/catalog"
	"github.com/jonathan/profile-orchestrator/internal/config"
	"github.com/jonathan/profile-orchestrator/internal/llm"
	"github.com/jonathan/profile-orchestrator/internal/orchestrator"
	"github.com/jonathan/profile-orchestrator/internal/server/ratelimit"
	"github.com/jonathan/profile-orchestrator/internal/task"
	"github.com/jonathan/profile-orchestrator/internal/version"
)

// Server represents the HTTP server and the wired subsystem behind it
type Server struct {
	httpServer  *http.Server
	cfg         config.Config
	pool        *pgxpool.Pool
	rdb         *redis.Client
	llmClient   llm.Client
	registry    *task.Registry
	orch        *orchestrator.Orchestrator
	dispatcher  *bulk.Dispatcher
	store       version.Store
	catalog     catalog.Catalog
	janitor     *task.Janitor
	rateLimiter *ratelimit.Limiter
}

// New creates a new server instance and wires the subsystem together.
// Without a DatabaseURL the version store and catalog run in memory (useful
// for development and tests); without a RedisURL task snapshots are skipped.
func New(cfg config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg}

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := pool.Ping(context.Background()); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		s.pool = pool
		s.store = version.NewPostgresStore(pool)
		s.catalog = catalog.NewPostgresCatalog(pool)
	} else {
		log.Println("No database configured, using in-memory stores")
		s.store = version.NewMemoryStore()
		s.catalog = catalog.NewMemoryCatalog()
	}

	var sink task.SnapshotSink
	var snapshots *task.RedisSnapshotStore
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}
		s.rdb = redis.NewClient(opts)
		snapshots = task.NewRedisSnapshotStore(s.rdb, 24*time.Hour)
		sink = snapshots
	}

	s.registry = task.NewRegistry(sink)
	if snapshots != nil {
		restoreTasks(s.registry, snapshots)
	}

	client, err := llm.NewClient(context.Background(), llm.DefaultConfig(), cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	s.llmClient = client

	adapterCfg := llm.DefaultAdapterConfig()
	adapterCfg.CallTimeout = time.Duration(cfg.CallTimeoutSeconds) * time.Second
	adapterCfg.CompletenessThreshold = cfg.CompletenessThreshold
	adapter := llm.NewAdapter(client, adapterCfg)

	s.orch = orchestrator.New(s.registry, adapter, s.store, s.catalog)
	s.dispatcher = bulk.NewDispatcher(s.orch, s.registry, cfg.BulkConcurrency)
	s.janitor = task.NewJanitor(s.registry,
		time.Duration(cfg.SweepIntervalMinutes)*time.Minute,
		time.Duration(cfg.TaskRetentionMinutes)*time.Minute)

	s.rateLimiter = ratelimit.NewLimiter(ratelimit.LoadConfig())

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.withRateLimit(s.withLogging(s.withCORS(s.routes()))),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // Long timeout for SSE streams
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// routes builds the request mux
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Generation endpoints
	mux.HandleFunc("POST /positions/{id}/generate", s.handleStartGeneration)
	mux.HandleFunc("POST /positions/{id}/generate/stream", s.handleStartGenerationStream)
	mux.HandleFunc("POST /bulk-generate", s.handleBulkGenerate)
	mux.HandleFunc("GET /bulk-status", s.handleBulkStatus)

	// Task endpoints
	mux.HandleFunc("GET /tasks", s.handleListActiveTasks)
	mux.HandleFunc("GET /tasks/{id}", s.handleTaskStatus)
	mux.HandleFunc("GET /tasks/{id}/result", s.handleTaskResult)
	mux.HandleFunc("DELETE /tasks/{id}", s.handleCancelTask)
	mux.HandleFunc("POST /tasks/{id}/ack", s.handleAckTask)

	// Version endpoints
	mux.HandleFunc("GET /positions/{id}/versions", s.handleListVersions)
	mux.HandleFunc("POST /positions/{id}/versions", s.handleAppendEditedVersion)
	mux.HandleFunc("GET /positions/{id}/versions/diff", s.handleDiffVersions)
	mux.HandleFunc("GET /positions/{id}/versions/{number}", s.handleGetVersion)
	mux.HandleFunc("PUT /positions/{id}/active-version", s.handleSetActiveVersion)

	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

// restoreTasks loads persisted task snapshots into the registry
func restoreTasks(registry *task.Registry, snapshots *task.RedisSnapshotStore) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tasks, err := snapshots.LoadAll(ctx)
	if err != nil {
		log.Printf("Warning: failed to restore task snapshots: %v", err)
		return
	}
	for _, t := range tasks {
		registry.Restore(t)
	}
	if len(tasks) > 0 {
		log.Printf("Restored %d task record(s) from snapshots", len(tasks))
	}
}

// Start begins listening for requests and blocks until shutdown
func (s *Server) Start() error {
	if err := s.janitor.Start(); err != nil {
		return fmt.Errorf("failed to start janitor: %w", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.janitor.Stop()
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.llmClient != nil {
		_ = s.llmClient.Close()
	}
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	log.Println("Server stopped")
	return nil
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := s.extractClientID(r)

		allowed, info := s.rateLimiter.Allow(clientID)
		s.setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, info)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log.Printf("[%s] %s %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
		log.Printf("[%s] %s completed in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// typedErrorResponse maps a typed error to its HTTP status
func (s *Server) typedErrorResponse(w http.ResponseWriter, err error) {
	s.errorResponse(w, HTTPStatus(err), err.Error())
}

// extractClientID extracts the client identifier from the request.
// This uses the IP address from RemoteAddr; a trusted-proxy X-Forwarded-For
// scheme can replace it later.
func (s *Server) extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", info.ResetTime.Unix()))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, info ratelimit.Info) {
	response := map[string]interface{}{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
		"reset_at":  info.ResetTime.Format(time.RFC3339),
	}

	if info.RetryAfter > 0 {
		response["retry_after"] = int(info.RetryAfter.Seconds())
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(info.RetryAfter.Seconds())))
	}

	log.Printf("[rate-limit] Rate limit exceeded: Limit=%d Remaining=%d Reset=%s",
		info.Limit, info.Remaining, info.ResetTime.Format(time.RFC3339))

	s.jsonResponse(w, http.StatusTooManyRequests, response)
}
