package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/Simplici0/quickbuild/internal/analysis"
	"github.com/Simplici0/quickbuild/internal/config"
	"github.com/Simplici0/quickbuild/internal/db"
	"github.com/Simplici0/quickbuild/internal/estimate"
	"github.com/Simplici0/quickbuild/internal/ingest"
	"github.com/Simplici0/quickbuild/internal/lock"
	"github.com/Simplici0/quickbuild/internal/logger"
	"github.com/Simplici0/quickbuild/internal/migrations"
	"github.com/Simplici0/quickbuild/internal/pricing"
	"github.com/Simplici0/quickbuild/internal/purge"
	"github.com/Simplici0/quickbuild/internal/seed"
	"github.com/Simplici0/quickbuild/internal/storage"
)

const (
	devAdminPassword = "admin123"
	lockTTL          = 30 * time.Second
	shutdownTimeout  = 15 * time.Second
)

// analyzer is the part of analysis.Analyzer the handlers use.
type analyzer interface {
	AnalyzeBlueprint(ctx context.Context, filename string, pdf []byte) ([]pricing.Area, error)
	DetectSchema(ctx context.Context, kind ingest.Kind, sample string) (analysis.Schema, error)
	ProposalSummary(ctx context.Context, est pricing.Estimate) (string, error)
}

type server struct {
	auth      *authService
	db        *sql.DB
	estimates *estimate.Service
	files     storage.Store
	analyzer  analyzer
	log       *logger.Logger
	validate  *validator.Validate
	maxUpload int64
	now       func() time.Time
}

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", "error", err)
	}
}

func run(cfg config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	if err := migrations.Up(database); err != nil {
		return fmt.Errorf("run database migrations: %w", err)
	}

	locker, closeLocker, err := newLocker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLocker()

	files, closeFiles, err := newFileStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFiles()

	adminPassword := cfg.AdminPassword
	if adminPassword == "" {
		if !cfg.IsDev() {
			return fmt.Errorf("ADMIN_PASSWORD is required outside development")
		}
		log.Warn("ADMIN_PASSWORD not set, using the development default")
		adminPassword = devAdminPassword
	}
	auth, err := newAuthService(adminPassword, cfg.SessionSecret, !cfg.IsDev())
	if err != nil {
		return err
	}

	svc := estimate.NewService(database, locker, log.With("service", "EstimateService"))

	az, err := newAnalyzer(cfg, database, log)
	if err != nil {
		return err
	}

	if cfg.IsDev() {
		stats, err := seed.Run(ctx, svc)
		if err != nil {
			return fmt.Errorf("seed database: %w", err)
		}
		log.Info("seed completed", "inserts", stats.Inserts)
	}

	purger := purge.NewScheduler(svc, files, log.With("service", "Purge"), cfg.Retention(), cfg.PurgeInterval)
	purger.Start(ctx)
	defer purger.Stop()

	srv := &server{
		auth:      auth,
		db:        database,
		estimates: svc,
		files:     files,
		analyzer:  az,
		log:       log,
		validate:  newValidator(),
		maxUpload: cfg.MaxUploadMB << 20,
		now:       time.Now,
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", httpServer.Addr, "env", cfg.Env)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// newLocker uses Redis when REDIS_ADDR is set so several instances share
// estimate locks; a single instance locks in memory.
func newLocker(ctx context.Context, cfg config.Config) (lock.Locker, func(), error) {
	if cfg.RedisAddr == "" {
		return lock.NewLocal(), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	return lock.NewRedis(rdb, lockTTL), func() { _ = rdb.Close() }, nil
}

func newFileStore(ctx context.Context, cfg config.Config) (storage.Store, func(), error) {
	if cfg.GCSBucket != "" {
		gcs, err := storage.NewGCS(ctx, cfg.GCSBucket)
		if err != nil {
			return nil, nil, fmt.Errorf("open gcs bucket: %w", err)
		}
		return gcs, func() { _ = gcs.Close() }, nil
	}

	disk, err := storage.NewDisk(cfg.UploadDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open upload dir: %w", err)
	}
	return disk, func() {}, nil
}

// newAnalyzer returns nil when no API key is configured; estimate creation
// is then refused.
func newAnalyzer(cfg config.Config, database *sql.DB, log *logger.Logger) (analyzer, error) {
	if cfg.OpenAIKey == "" {
		return nil, nil
	}
	client, err := analysis.NewClient(analysis.ClientConfig{
		APIKey:     cfg.OpenAIKey,
		BaseURL:    cfg.OpenAIBaseURL,
		Model:      cfg.OpenAIModel,
		MaxRetries: 2,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("build openai client: %w", err)
	}
	ledger := analysis.NewSQLLedger(database, cfg.OpenAISpendCap)
	return analysis.NewAnalyzer(client, ledger, log), nil
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.authMiddleware)

	r.Get("/", s.handleHome)
	r.Get("/login", s.handleLoginForm)
	r.Post("/login", s.handleLoginSubmit)
	r.Post("/logout", s.handleLogout)
	r.Get("/healthz", s.handleHealth)

	r.Route("/estimates", func(r chi.Router) {
		r.Get("/", s.handleEstimatesList)
		r.Post("/", s.handleEstimateCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleEstimateDetail)
			r.Post("/bundles/toggle", s.handleBundleToggle)
			r.Post("/settings", s.handleSettingsUpdate)
			r.Post("/recalculate", s.handleRecalculate)
			r.Post("/duplicate", s.handleEstimateDuplicate)
			r.Post("/delete", s.handleEstimateDelete)
			r.Get("/proposal.pdf", s.handleProposalPDF)
			r.Get("/export.xlsx", s.handleExportXLSX)
		})
	})

	return r
}

func (s *server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" || r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		if !isAuthenticated(r, s.auth) {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "error": err.Error()})
		return
	}
	version, err := migrations.Version(s.db)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "schema_version": version})
}
