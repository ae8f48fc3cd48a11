// Command authority runs the SSO Authority: it mints exchange tokens for
// browsers and redeems them for Relying Parties.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"ssogate/internal/authority/handler"
	"ssogate/internal/authority/service"
	"ssogate/internal/authority/session"
	"ssogate/internal/authority/users"
	"ssogate/internal/exchange/store/memory"
	tokenredis "ssogate/internal/exchange/store/redis"
	"ssogate/internal/platform/config"
	"ssogate/internal/platform/health"
	"ssogate/internal/platform/httpserver"
	"ssogate/internal/platform/logger"
	"ssogate/internal/platform/metrics"
	"ssogate/internal/platform/postgres"
	"ssogate/internal/platform/redis"
	audit "ssogate/pkg/platform/audit"
	"ssogate/pkg/platform/audit/publisher"
	auditkafka "ssogate/pkg/platform/audit/store/kafka"
	"ssogate/pkg/platform/audit/store/logsink"
	"ssogate/pkg/platform/middleware/request"
	"ssogate/pkg/platform/sentinel"
)

const (
	startupTimeout   = 15 * time.Second
	auditBufferSize  = 1024
	auditPartitions  = 3
	auditReplication = 1
)

func main() {
	cfg, err := config.AuthorityFromEnv(nil)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)
	for _, w := range cfg.Warnings() {
		log.Warn("insecure configuration", "detail", w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("authority exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Authority, log *slog.Logger) error {
	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	checks := map[string]health.Check{}

	tokens, closeTokens, err := buildTokenStore(startCtx, cfg, reg, m, checks, log)
	if err != nil {
		return err
	}
	defer closeTokens()

	userStore, closeUsers, err := buildUserStore(startCtx, cfg, checks, log)
	if err != nil {
		return err
	}
	defer closeUsers()

	auditStore, closeAudit, err := buildAuditStore(startCtx, cfg, checks, log)
	if err != nil {
		return err
	}
	defer closeAudit()
	pub := publisher.NewPublisher(auditStore,
		publisher.WithAsyncBuffer(auditBufferSize),
		publisher.WithLogger(log),
	)
	// Drain pending events before the sink closes.
	defer pub.Close()

	svc := service.New(tokens, userStore, session.NewService(cfg.JWTSigningKey, cfg.JWTIssuer),
		service.Config{
			TokenLifetime:      cfg.TokenLifetime,
			SessionTTL:         cfg.SessionTTL,
			APIKeys:            cfg.APIKeys,
			AllowedOriginHosts: cfg.AllowedOriginHosts,
		},
		service.WithAuditPublisher(pub),
		service.WithMetrics(m),
		service.WithLogger(log),
	)

	r := chi.NewRouter()
	r.Use(request.Recovery(log))
	r.Use(request.RequestID)
	r.Use(request.Time)
	r.Use(request.ClientMetadata)
	r.Use(request.Logger(log))
	r.Use(chimiddleware.CleanPath)
	handler.New(svc, log, cfg.Secure()).Register(r)
	r.Get("/healthz", health.Handler(log, checks))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(gctx, httpserver.New(cfg.Addr, r), log)
	})
	log.InfoContext(ctx, "authority started",
		"public_url", cfg.PublicURL.String(),
		"token_lifetime", cfg.TokenLifetime,
		"origin_allow_list", len(cfg.AllowedOriginHosts),
	)
	return g.Wait()
}

func buildTokenStore(ctx context.Context, cfg config.Authority, reg prometheus.Registerer, m *metrics.Exchange, checks map[string]health.Check, log *slog.Logger) (service.TokenStore, func(), error) {
	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	if client != nil {
		log.InfoContext(ctx, "using redis token store")
		checks["redis"] = client.Health
		return tokenredis.New(client, tokenredis.WithTokenBytes(cfg.TokenBytes)), func() { _ = client.Close() }, nil
	}

	log.InfoContext(ctx, "using in-memory token store")
	store := memory.New(memory.WithTokenBytes(cfg.TokenBytes), memory.WithMetrics(m))
	metrics.RegisterLiveTokens(reg, store.Len)
	return store, store.Close, nil
}

type userStore interface {
	service.UserStore
	Save(ctx context.Context, user *users.User) error
}

func buildUserStore(ctx context.Context, cfg config.Authority, checks map[string]health.Check, log *slog.Logger) (userStore, func(), error) {
	var store userStore
	closeFn := func() {}

	pool, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, err
	}
	if pool != nil {
		pg := users.NewPostgres(pool.Pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.InfoContext(ctx, "using postgres user store")
		checks["postgres"] = pool.Health
		store, closeFn = pg, pool.Close
	} else {
		log.InfoContext(ctx, "using in-memory user store")
		store = users.NewInMemoryStore()
	}

	if err := seedDemoUser(ctx, store, cfg.DemoUser); err != nil {
		closeFn()
		return nil, nil, err
	}
	return store, closeFn, nil
}

func seedDemoUser(ctx context.Context, store userStore, demo config.DemoUser) error {
	if demo.Email == "" {
		return nil
	}
	_, err := store.FindByEmail(ctx, users.NormalizeEmail(demo.Email))
	if err == nil {
		return nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return fmt.Errorf("look up demo user: %w", err)
	}
	user, err := users.New(demo.Email, demo.Password, "Demo User", time.Now())
	if err != nil {
		return fmt.Errorf("demo user: %w", err)
	}
	return store.Save(ctx, user)
}

func buildAuditStore(ctx context.Context, cfg config.Authority, checks map[string]health.Check, log *slog.Logger) (audit.Store, func(), error) {
	if len(cfg.Kafka.Brokers) == 0 {
		log.InfoContext(ctx, "audit events go to the log")
		return logsink.New(log), func() {}, nil
	}
	store, err := auditkafka.New(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	if err != nil {
		return nil, nil, err
	}
	if err := store.EnsureTopic(ctx, auditPartitions, auditReplication); err != nil {
		store.Close()
		return nil, nil, err
	}
	log.InfoContext(ctx, "audit events go to kafka", "topic", cfg.Kafka.Topic)
	checks["kafka"] = store.Health
	return store, store.Close, nil
}
