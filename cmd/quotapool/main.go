package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/quotapool/internal/config"
	"github.com/kailas-cloud/quotapool/internal/db"
	dbRedis "github.com/kailas-cloud/quotapool/internal/db/redis"
	dbValkey "github.com/kailas-cloud/quotapool/internal/db/valkey"
	"github.com/kailas-cloud/quotapool/internal/domain/credential"
	logpkg "github.com/kailas-cloud/quotapool/internal/logger"
	"github.com/kailas-cloud/quotapool/internal/metrics"
	"github.com/kailas-cloud/quotapool/internal/repository/ledger"
	chiTransport "github.com/kailas-cloud/quotapool/internal/transport/chi"
	"github.com/kailas-cloud/quotapool/internal/transport/eapi"
	"github.com/kailas-cloud/quotapool/internal/transport/oauth"
	auctionuc "github.com/kailas-cloud/quotapool/internal/usecase/auction"
	"github.com/kailas-cloud/quotapool/internal/usecase/credentials"
	"github.com/kailas-cloud/quotapool/internal/usecase/dispatch"
	healthuc "github.com/kailas-cloud/quotapool/internal/usecase/health"
	"github.com/kailas-cloud/quotapool/internal/usecase/pool"
	statusuc "github.com/kailas-cloud/quotapool/internal/usecase/status"
	"github.com/kailas-cloud/quotapool/internal/version"
)

func main() {
	// .env is optional; real deployments pass the environment directly
	_ = godotenv.Load()

	env := config.GetEnv()
	cfg := config.MustLoad(env)

	logger, err := logpkg.NewLogger(env, logpkg.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting quotapool API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("upstream", cfg.Upstream.BaseURL),
		zap.Bool("database", cfg.Database.Enabled()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Optional database: health check and usage ledger
	var store db.Store
	if cfg.Database.Enabled() {
		store = mustStore(ctx, cfg.Database, logger)
		defer store.Close()
	}

	metrics.RegisterPoolMetrics()

	p := pool.New(logger,
		pool.WithResetInterval(config.Seconds(cfg.Pool.ResetIntervalSec)),
		pool.WithSweepInterval(config.Seconds(cfg.Pool.SweepIntervalSec)),
	)

	caller := eapi.New(eapi.Config{
		BaseURL:           cfg.Upstream.BaseURL,
		Timeout:           config.Seconds(cfg.Upstream.TimeoutSec),
		RequestsPerSecond: cfg.Upstream.RequestsPerSecond,
		Burst:             cfg.Upstream.Burst,
		Logger:            logger,
	})
	exchanger := oauth.New(cfg.Upstream.AuthURL, config.Seconds(cfg.Upstream.TimeoutSec), nil)

	mgr := credentials.New(p, exchanger, logger,
		credentials.WithSkew(config.Seconds(cfg.Credentials.RefreshSkewSec)),
		credentials.WithMaxWeights(cfg.Pool.ApplicationMaxWeight, cfg.Pool.UserMaxWeight),
	)
	seedCredentials(ctx, mgr, cfg.Credentials, logger)
	if p.Len() == 0 {
		logger.Warn("Credential pool is empty; requests will wait for a credential")
	}

	dopts := []dispatch.Option{
		dispatch.WithRetryDelay(config.Seconds(cfg.Dispatch.RetryDelaySec)),
		dispatch.WithMaxAttempts(cfg.Dispatch.MaxAttempts),
		dispatch.WithMargins(cfg.Dispatch.ApplicationMargin, cfg.Dispatch.UserMargin),
	}

	// Pass nil interfaces (not typed nil pointers!) when the ledger or the
	// database is not configured.
	var (
		usageLedger *ledger.Ledger
		usage       statusuc.UsageReader
		dbPinger    healthuc.DBPinger
	)
	if store != nil {
		dbPinger = store
	}
	if cfg.Ledger.Enabled {
		usageLedger = ledger.New(store, cfg.Ledger.KeyPrefix, logger)
		usage = usageLedger
		dopts = append(dopts, dispatch.WithRecorder(usageLedger))
	}

	dispatcher := dispatch.New(p, caller, logger, dopts...)

	auctionSvc := auctionuc.New(dispatcher, auctionuc.WithWeight(cfg.Dispatch.RequestWeight))
	statusSvc := statusuc.New(p, dispatcher, usage, statusuc.WithLogger(logger))
	healthSvc := healthuc.New(dbPinger, p)

	server := chiTransport.NewServer(auctionSvc, statusSvc, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  config.Seconds(cfg.HTTP.ReadTimeoutSec),
		WriteTimeout: config.Seconds(cfg.HTTP.WriteTimeoutSec),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.Run(gctx)
		return nil
	})
	g.Go(func() error {
		mgr.Run(gctx, config.Seconds(cfg.Credentials.RefreshIntervalSec))
		return nil
	})
	if usageLedger != nil {
		g.Go(func() error {
			usageLedger.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Seconds(cfg.HTTP.ShutdownSec))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error during shutdown", zap.Error(err))
		}
		if usageLedger != nil {
			if err := usageLedger.Flush(shutdownCtx); err != nil {
				logger.Error("Failed to flush usage ledger", zap.Error(err))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		return
	}
	logger.Info("Server stopped gracefully")
}

func mustStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) db.Store {
	var (
		store db.Store
		err   error
	)
	switch cfg.Driver {
	case "valkey":
		store, err = dbValkey.NewStore(dbValkey.Config{
			Addrs:    cfg.Addrs,
			Password: cfg.Password,
		})
	case "redis":
		store, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Addrs,
			Password: cfg.Password,
		})
	default:
		logger.Fatal("Unknown database driver", zap.String("driver", cfg.Driver))
	}
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}

	if err := store.WaitForReady(ctx, config.Seconds(cfg.ReadinessTimeout)); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database",
		zap.String("driver", cfg.Driver),
		zap.Strings("addrs", cfg.Addrs),
	)
	return store
}

// seedCredentials registers the configured credentials. A credential that
// cannot be obtained is logged and skipped.
func seedCredentials(ctx context.Context, mgr *credentials.Manager, cfg config.CredentialsConfig, logger *zap.Logger) {
	for _, a := range cfg.Applications {
		if _, err := mgr.AddApplication(ctx, a.ClientID, a.ClientSecret); err != nil {
			logger.Error("Failed to add application credential", zap.String("client_id", a.ClientID), zap.Error(err))
		}
	}
	for _, u := range cfg.Users {
		if _, err := mgr.AddUser(ctx, u.ClientID, u.ClientSecret, u.RefreshToken); err != nil {
			logger.Error("Failed to add user credential", zap.String("client_id", u.ClientID), zap.Error(err))
		}
	}
	for i, s := range cfg.Static {
		if _, err := mgr.AddStatic(credential.Kind(s.Kind), s.AccessToken, s.TokenType); err != nil {
			logger.Error("Failed to add static credential", zap.Int("index", i), zap.Error(err))
		}
	}
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(chiTransport.ErrorResponse{
						Code:    chiTransport.ErrorResponseCodeInternalError,
						Message: "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.String("region", chi.URLParamFromCtx(r.Context(), "region")),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
