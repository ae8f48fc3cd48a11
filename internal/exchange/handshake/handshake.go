// Package handshake is the Relying Party side of the exchange. Each request
// is classified from the marker cookie and the sso query parameter alone:
//
//	sso in query              -> store it in the marker cookie, redirect to the clean origin
//	marker cookie, no query   -> clear the cookie, verify, then serve or re-authenticate
//	neither                   -> redirect to the Authority's authenticate endpoint
package handshake

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"ssogate/internal/exchange/models"
	"ssogate/internal/exchange/protocol"
	"ssogate/internal/platform/metrics"
	dErrors "ssogate/pkg/domain-errors"
	"ssogate/pkg/platform/httputil"
	request "ssogate/pkg/platform/middleware/request"
	"ssogate/pkg/platform/sentinel"
	"ssogate/pkg/requestcontext"
)

// Handshake step labels for metrics and logs.
const (
	StepLanding      = "landing"
	StepVerify       = "verify"
	StepAuthenticate = "authenticate"
)

// DefaultVerifyTimeout bounds the back-channel call made in the verify step.
const DefaultVerifyTimeout = 5 * time.Second

// Verifier redeems a token id at the Authority.
type Verifier interface {
	Verify(ctx context.Context, id string) (models.Identity, error)
}

// ErrorHandler renders failures that are neither success nor not-found.
// It must write a response; it must not let the request through.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Middleware guards handlers behind the exchange handshake.
type Middleware struct {
	authenticateURL *url.URL
	verifier        Verifier
	logger          *slog.Logger
	metrics         *metrics.Exchange
	onError         ErrorHandler
	trustForwarded  bool
	secure          bool
	cookieLifetime  time.Duration
	verifyTimeout   time.Duration
}

type Option func(*Middleware)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Middleware) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithMetrics(em *metrics.Exchange) Option {
	return func(m *Middleware) {
		m.metrics = em
	}
}

func WithErrorHandler(h ErrorHandler) Option {
	return func(m *Middleware) {
		if h != nil {
			m.onError = h
		}
	}
}

// WithTrustForwardedHeaders reads X-Forwarded-Proto/Host when rebuilding
// the origin. Enable only behind a proxy that sets them.
func WithTrustForwardedHeaders(trust bool) Option {
	return func(m *Middleware) {
		m.trustForwarded = trust
	}
}

// WithSecureCookies overrides the Secure attribute, which otherwise follows
// the scheme of the authenticate URL.
func WithSecureCookies(secure bool) Option {
	return func(m *Middleware) {
		m.secure = secure
	}
}

// WithCookieLifetime sets the marker cookie max age; it should match the
// Authority's token lifetime.
func WithCookieLifetime(d time.Duration) Option {
	return func(m *Middleware) {
		if d > 0 {
			m.cookieLifetime = d
		}
	}
}

func WithVerifyTimeout(d time.Duration) Option {
	return func(m *Middleware) {
		if d > 0 {
			m.verifyTimeout = d
		}
	}
}

// New builds the middleware. authenticateURL is the Authority endpoint
// browsers are sent to when they carry no token.
func New(authenticateURL *url.URL, verifier Verifier, opts ...Option) *Middleware {
	m := &Middleware{
		authenticateURL: authenticateURL,
		verifier:        verifier,
		logger:          slog.Default(),
		secure:          authenticateURL.Scheme == "https",
		cookieLifetime:  models.DefaultTokenLifetime,
		verifyTimeout:   DefaultVerifyTimeout,
	}
	m.onError = m.defaultErrorHandler
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Handler wraps next. next only ever runs with a verified identity in the
// request context.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.URL.Query().Get(protocol.ParamToken); id != "" {
			m.land(w, r, id)
			return
		}
		if id := protocol.CookieValue(r, protocol.MarkerCookie); id != "" {
			m.verify(w, r, next, id)
			return
		}
		m.authenticate(w, r)
	})
}

// land stores the token in the marker cookie and bounces to the clean origin
// so the id leaves the address bar and browser history.
func (m *Middleware) land(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	origin := protocol.CanonicalOrigin(r, m.trustForwarded)

	if !models.ValidTokenID(id) {
		m.logger.WarnContext(ctx, "malformed sso parameter ignored",
			"request_id", request.GetRequestID(ctx),
		)
		m.metrics.IncHandshake(StepLanding, metrics.OutcomeMalformed)
		protocol.NegotiateRedirector(r, http.StatusTemporaryRedirect).Redirect(w, r, origin)
		return
	}

	http.SetCookie(w, protocol.NewMarkerCookie(id, m.cookieLifetime, m.secure))
	m.metrics.IncHandshake(StepLanding, metrics.OutcomeSuccess)
	protocol.NegotiateRedirector(r, http.StatusTemporaryRedirect).Redirect(w, r, origin)
}

func (m *Middleware) verify(w http.ResponseWriter, r *http.Request, next http.Handler, id string) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	// The marker is single-use whatever the outcome.
	http.SetCookie(w, protocol.ClearMarkerCookie(m.secure))

	if !models.ValidTokenID(id) {
		m.metrics.IncHandshake(StepVerify, metrics.OutcomeMalformed)
		m.authenticate(w, r)
		return
	}

	verifyCtx, cancel := context.WithTimeout(ctx, m.verifyTimeout)
	identity, err := m.verifier.Verify(verifyCtx, id)
	cancel()

	switch {
	case err == nil:
		m.metrics.IncHandshake(StepVerify, metrics.OutcomeSuccess)
		m.logger.DebugContext(ctx, "sso token verified",
			"request_id", requestID,
			"token", protocol.Fingerprint(id),
			"guest", identity.IsGuest(),
		)
		next.ServeHTTP(w, r.WithContext(requestcontext.WithIdentity(ctx, identity)))
	case errors.Is(err, sentinel.ErrNotFound):
		m.metrics.IncHandshake(StepVerify, metrics.OutcomeNotFound)
		m.logger.InfoContext(ctx, "sso token not redeemable, re-authenticating",
			"request_id", requestID,
			"token", protocol.Fingerprint(id),
		)
		m.authenticate(w, r)
	default:
		m.metrics.IncHandshake(StepVerify, metrics.OutcomeError)
		m.onError(w, r, err)
	}
}

func (m *Middleware) authenticate(w http.ResponseWriter, r *http.Request) {
	m.metrics.IncHandshake(StepAuthenticate, metrics.OutcomeSuccess)
	target := protocol.AuthenticateURL(m.authenticateURL, protocol.CanonicalOrigin(r, m.trustForwarded))
	protocol.NegotiateRedirector(r, http.StatusTemporaryRedirect).Redirect(w, r, target)
}

func (m *Middleware) defaultErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	m.logger.ErrorContext(ctx, "sso verification failed",
		"request_id", request.GetRequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "sso verification failed"))
}

// RequireUser sends guests to loginURL with the current origin. It must be
// mounted inside Handler.
func (m *Middleware) RequireUser(loginURL *url.URL) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := requestcontext.Identity(r.Context())
			if ok && !identity.IsGuest() {
				next.ServeHTTP(w, r)
				return
			}
			target := protocol.WithOrigin(loginURL, protocol.CanonicalOrigin(r, m.trustForwarded))
			protocol.NegotiateRedirector(r, http.StatusTemporaryRedirect).Redirect(w, r, target)
		})
	}
}
