// Command relyingparty is a demo service guarded by the SSO handshake.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"ssogate/internal/exchange/handshake"
	"ssogate/internal/exchange/verifier"
	"ssogate/internal/platform/config"
	"ssogate/internal/platform/health"
	"ssogate/internal/platform/httpserver"
	"ssogate/internal/platform/logger"
	"ssogate/internal/platform/metrics"
	"ssogate/pkg/platform/httputil"
	"ssogate/pkg/platform/middleware/request"
	"ssogate/pkg/requestcontext"
)

func main() {
	cfg, err := config.RelyingPartyFromEnv(nil)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("relying party exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.RelyingParty, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	client := verifier.New(cfg.VerifyURL, cfg.APIKey,
		verifier.WithTimeout(cfg.VerifyTimeout),
		verifier.WithTracerProvider(otel.GetTracerProvider()),
		verifier.WithMetrics(m),
	)
	sso := handshake.New(cfg.AuthenticateURL, client,
		handshake.WithLogger(log),
		handshake.WithMetrics(m),
		handshake.WithTrustForwardedHeaders(cfg.TrustForwardedHeaders),
		handshake.WithSecureCookies(cfg.Secure()),
		handshake.WithCookieLifetime(cfg.TokenLifetime),
		handshake.WithVerifyTimeout(cfg.VerifyTimeout),
	)

	r := chi.NewRouter()
	r.Use(request.Recovery(log))
	r.Use(request.RequestID)
	if cfg.TrustForwardedHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(request.ClientMetadata)
	r.Use(request.Logger(log))

	r.Get("/healthz", health.Handler(log, nil))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	r.Group(func(r chi.Router) {
		r.Use(sso.Handler)
		r.Get("/", showIdentity)
		r.With(sso.RequireUser(cfg.LoginURL)).Get("/me", showIdentity)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(gctx, httpserver.New(cfg.Addr, r), log)
	})
	log.InfoContext(ctx, "relying party started",
		"authenticate_url", cfg.AuthenticateURL.String(),
		"verify_url", cfg.VerifyURL.String(),
	)
	return g.Wait()
}

func showIdentity(w http.ResponseWriter, r *http.Request) {
	identity, _ := requestcontext.Identity(r.Context())
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, identity)
}
