package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sigil/internal/authz/handler"
	authzmetrics "sigil/internal/authz/metrics"
	"sigil/internal/authz/service"
	authzstore "sigil/internal/authz/store"
	"sigil/internal/cluster"
	"sigil/internal/consensus"
	"sigil/internal/feed"
	"sigil/internal/finalizer"
	jwttoken "sigil/internal/jwt_token"
	"sigil/internal/platform/config"
	"sigil/internal/platform/httpserver"
	"sigil/internal/platform/kafka"
	"sigil/internal/platform/logger"
	platformmetrics "sigil/internal/platform/metrics"
	platformredis "sigil/internal/platform/redis"
	"sigil/internal/platform/telemetry"
	"sigil/internal/queue"
	"sigil/internal/transfer"
	"sigil/pkg/evmhash"
)

const shutdownTimeout = 10 * time.Second

// main wires dependencies and keeps the server lifecycle small. Business
// logic lives in the internal service packages.
func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	shutdownTracing, err := telemetry.Init(ctx, "sigil", log)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
	}()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient == nil {
		return errors.New("redis is required for the processing queue")
	}
	defer redisClient.Close()

	var producer *kafka.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer, err = kafka.NewProducer(cfg.KafkaBrokers, kafka.WithLogger(log))
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		defer producer.Close()
		if err := producer.EnsureTopic(ctx, transfer.Topic, 3); err != nil {
			return fmt.Errorf("ensure transfer topic: %w", err)
		}
	}

	requestStore := authzstore.NewPostgres(db)
	clusterStore := cluster.NewPostgresStore(db)
	transferStore := transfer.NewPostgresStore(db)

	trackerOpts := []transfer.Option{transfer.WithLogger(log)}
	if producer != nil {
		trackerOpts = append(trackerOpts, transfer.WithPublisher(producer))
	}
	tracker := transfer.NewTracker(transferStore, trackerOpts...)

	verifier := evmhash.NewEd25519Verifier()

	nodeClient := consensus.NewHTTPNodeClient(telemetry.InstrumentClient(nil))
	evaluator := consensus.NewEvaluator(clusterStore, nodeClient, verifier,
		consensus.WithTimeout(cfg.NodeCallTimeout),
		consensus.WithLogger(log),
	)

	// The exhaustion hook closes over svc; the queue only invokes it from
	// Run, well after svc is assigned below.
	var svc *service.Service
	jobs := queue.New(redisClient.Client, "authz",
		queue.WithMaxAttempts(cfg.Queue.MaxAttempts),
		queue.WithBackoff(cfg.Queue.Backoff),
		queue.WithConcurrency(cfg.Queue.Concurrency),
		queue.WithLogger(log),
		queue.WithOnExhausted(func(ctx context.Context, job queue.Job, lastErr error) {
			svc.OnExhausted(ctx, job, lastErr)
		}),
	)

	svcOpts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(authzmetrics.New()),
		service.WithTransferTracker(tracker),
	}
	if collector := buildFeedCollector(cfg, transferStore, log); collector != nil {
		svcOpts = append(svcOpts, service.WithFeedCollector(collector))
	}
	svc = service.New(requestStore, jobs, evaluator, finalizer.Finalize, verifier, svcOpts...)

	jwtSvc := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
	h := handler.New(svc, log, platformmetrics.New(), jwttoken.NewJWTServiceAdapter(jwtSvc))

	router := chi.NewRouter()
	router.Use(telemetry.HTTPMiddleware("sigil"))
	h.Register(router)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", healthHandler(db, redisClient))

	// Re-seed jobs for requests that were in flight when the previous
	// process stopped.
	recovered, err := svc.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover in-flight requests: %w", err)
	}
	if recovered > 0 {
		log.InfoContext(ctx, "re-enqueued in-flight requests", "count", recovered)
	}

	queueErr := make(chan error, 1)
	go func() {
		queueErr <- jobs.Run(ctx, svc.HandleJob)
	}()

	srv := httpserver.New(cfg.Addr, router)
	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting sigil", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	if err := <-queueErr; err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("queue stopped with error", "error", err)
	}

	log.Info("sigil stopped")
	return nil
}

// buildFeedCollector assembles the evaluation feed sources. Returns nil when
// no signing seed is configured, which disables feeds entirely.
func buildFeedCollector(cfg config.Config, transfers transfer.Store, log *slog.Logger) *feed.Collector {
	if cfg.FeedSigningSeed == "" {
		return nil
	}
	signer, err := feed.NewSigner(cfg.FeedSigningSeed)
	if err != nil {
		log.Warn("invalid feed signing seed, feeds disabled", "error", err)
		return nil
	}

	var priceClient feed.PriceClient
	if cfg.PriceFeedURL != "" {
		priceClient = feed.NewHTTPPriceClient(cfg.PriceFeedURL, 5*time.Second)
	} else {
		priceClient = feed.MockPriceClient{}
	}

	sources := []feed.Source{
		feed.NewPriceSource(priceClient, signer),
		feed.NewHistoricalTransferSource(transfers, cfg.TransferWindow, signer),
	}
	return feed.NewCollector(sources, feed.WithLogger(log))
}

func healthHandler(db *sql.DB, redisClient *platformredis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := redisClient.Health(ctx); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
