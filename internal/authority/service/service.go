// Package service implements the Authority: it mints exchange tokens for
// the caller's session, redeems them for Relying Parties, and manages the
// session itself.
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"ssogate/internal/authority/session"
	"ssogate/internal/authority/users"
	"ssogate/internal/exchange/models"
	"ssogate/internal/exchange/protocol"
	"ssogate/internal/platform/metrics"
	dErrors "ssogate/pkg/domain-errors"
	audit "ssogate/pkg/platform/audit"
	"ssogate/pkg/platform/sentinel"
	"ssogate/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks TokenStore,UserStore,AuditPublisher

// TokenStore holds exchange tokens.
type TokenStore interface {
	Create(ctx context.Context, identity models.Identity, lifetime time.Duration) (string, error)
	Consume(ctx context.Context, id string) (models.Identity, error)
}

// UserStore resolves session subjects and login emails.
type UserStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*users.User, error)
	FindByEmail(ctx context.Context, email string) (*users.User, error)
}

// AuditPublisher records audit events without blocking.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Config holds the Authority's policy knobs.
type Config struct {
	TokenLifetime      time.Duration
	SessionTTL         time.Duration
	APIKeys            []string
	AllowedOriginHosts []string
}

// Service is the Authority.
type Service struct {
	tokens   TokenStore
	users    UserStore
	sessions *session.Service
	cfg      Config
	apiKeys  [][]byte
	audit    AuditPublisher
	metrics  *metrics.Exchange
	logger   *slog.Logger
}

type Option func(*Service)

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.audit = p
	}
}

func WithMetrics(m *metrics.Exchange) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(tokens TokenStore, userStore UserStore, sessions *session.Service, cfg Config, opts ...Option) *Service {
	s := &Service{
		tokens:   tokens,
		users:    userStore,
		sessions: sessions,
		cfg:      cfg,
		logger:   slog.Default(),
	}
	if s.cfg.TokenLifetime <= 0 {
		s.cfg.TokenLifetime = models.DefaultTokenLifetime
	}
	if s.cfg.SessionTTL <= 0 {
		s.cfg.SessionTTL = 24 * time.Hour
	}
	for _, k := range cfg.APIKeys {
		s.apiKeys = append(s.apiKeys, []byte(k))
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// AuthenticateResult tells the transport where to send the browser.
type AuthenticateResult struct {
	RedirectURL string
	Identity    models.Identity
	// ClearSession is set when the presented session was unusable.
	ClearSession bool
}

// Authenticate mints a token for the caller's session, or for the guest
// identity when there is none, and returns origin with sso=<id> appended.
func (s *Service) Authenticate(ctx context.Context, rawOrigin, sessionToken string) (*AuthenticateResult, error) {
	origin, err := protocol.ParseOrigin(rawOrigin)
	if err != nil {
		return nil, err
	}
	if !s.originAllowed(origin) {
		return nil, dErrors.New(dErrors.CodeForbidden, "origin host is not allowed")
	}

	identity, clear, err := s.resolveSession(ctx, sessionToken)
	if err != nil {
		return nil, err
	}

	id, err := s.tokens.Create(ctx, identity, s.cfg.TokenLifetime)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue token")
	}
	s.metrics.IncIssued()

	event := audit.NewEvent(ctx, audit.ActionTokenIssued)
	event.Subject = subjectOf(identity)
	event.Origin = origin.Host
	event.Token = protocol.Fingerprint(id)
	s.emit(ctx, event)

	return &AuthenticateResult{
		RedirectURL:  protocol.WithToken(origin, id),
		Identity:     identity,
		ClearSession: clear,
	}, nil
}

// resolveSession maps a session credential to an identity. Invalid or
// orphaned sessions degrade to guest and ask for the cookie to be cleared.
func (s *Service) resolveSession(ctx context.Context, sessionToken string) (models.Identity, bool, error) {
	if sessionToken == "" {
		return models.GuestIdentity(), false, nil
	}
	claims, err := s.sessions.Validate(sessionToken)
	if err != nil {
		s.logger.InfoContext(ctx, "ignoring invalid session",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return models.GuestIdentity(), true, nil
	}
	userID, err := claims.UserID()
	if err != nil {
		return models.GuestIdentity(), true, nil
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.GuestIdentity(), true, nil
		}
		return models.Identity{}, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load session user")
	}
	return user.Identity(), false, nil
}

func (s *Service) originAllowed(origin *url.URL) bool {
	if len(s.cfg.AllowedOriginHosts) == 0 {
		return true
	}
	host := strings.ToLower(origin.Hostname())
	for _, allowed := range s.cfg.AllowedOriginHosts {
		allowed = strings.ToLower(allowed)
		if suffix, ok := strings.CutPrefix(allowed, "*."); ok {
			if strings.HasSuffix(host, "."+suffix) {
				return true
			}
			continue
		}
		if host == allowed {
			return true
		}
	}
	return false
}

// Verify redeems a token for a Relying Party. The API key is checked before
// the token is looked up, so a rejected caller never burns a token.
func (s *Service) Verify(ctx context.Context, tokenID, apiKey string) (models.Identity, error) {
	if !s.validAPIKey(apiKey) {
		s.metrics.IncRedeemed(metrics.OutcomeForbidden)
		event := audit.NewEvent(ctx, audit.ActionVerifyRejected)
		event.Reason = "invalid_api_key"
		event.Token = protocol.Fingerprint(tokenID)
		s.emit(ctx, event)
		return models.Identity{}, dErrors.New(dErrors.CodeForbidden, "invalid api key")
	}
	if !models.ValidTokenID(tokenID) {
		s.metrics.IncRedeemed(metrics.OutcomeMalformed)
		return models.Identity{}, dErrors.New(dErrors.CodeBadRequest, "malformed sso token")
	}

	identity, err := s.tokens.Consume(ctx, tokenID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.metrics.IncRedeemed(metrics.OutcomeNotFound)
			return models.Identity{}, dErrors.Wrap(err, dErrors.CodeNotFound, "token not found")
		}
		s.metrics.IncRedeemed(metrics.OutcomeError)
		return models.Identity{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to redeem token")
	}
	s.metrics.IncRedeemed(metrics.OutcomeSuccess)

	event := audit.NewEvent(ctx, audit.ActionTokenRedeemed)
	event.Subject = subjectOf(identity)
	event.Token = protocol.Fingerprint(tokenID)
	s.emit(ctx, event)
	return identity, nil
}

// validAPIKey compares against every configured key so timing does not
// reveal which, if any, matched.
func (s *Service) validAPIKey(apiKey string) bool {
	if apiKey == "" {
		return false
	}
	presented := []byte(apiKey)
	match := 0
	for _, k := range s.apiKeys {
		match |= subtle.ConstantTimeCompare(presented, k)
	}
	return match == 1
}

// LoginResult is a freshly issued session.
type LoginResult struct {
	Session string
	User    *users.User
}

var dummyHash = sync.OnceValue(func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte("ssogate-dummy-password"), bcrypt.DefaultCost)
	return h
})

// Login checks credentials and issues a session credential.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = users.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "email and password are required")
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}
	if user == nil {
		// Spend the same bcrypt time as a real comparison.
		_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
		s.loginFailed(ctx, email, "unknown_user")
		return nil, dErrors.New(dErrors.CodeForbidden, "invalid credentials")
	}
	if !user.CheckPassword(password) {
		s.loginFailed(ctx, email, "wrong_password")
		return nil, dErrors.New(dErrors.CodeForbidden, "invalid credentials")
	}

	token, err := s.sessions.Issue(user.ID, user.Email, s.cfg.SessionTTL)
	if err != nil {
		return nil, err
	}

	event := audit.NewEvent(ctx, audit.ActionLoginSucceeded)
	event.Subject = user.ID.String()
	event.Email = user.Email
	s.emit(ctx, event)

	return &LoginResult{Session: token, User: user}, nil
}

func (s *Service) loginFailed(ctx context.Context, email, reason string) {
	event := audit.NewEvent(ctx, audit.ActionLoginFailed)
	event.Email = email
	event.Reason = reason
	s.emit(ctx, event)
}

// SessionTTL is the lifetime of sessions issued by Login.
func (s *Service) SessionTTL() time.Duration {
	return s.cfg.SessionTTL
}

// Logout records the end of a session. Sessions are stateless, so there is
// nothing to revoke; the transport clears the cookie.
func (s *Service) Logout(ctx context.Context, sessionToken string) {
	event := audit.NewEvent(ctx, audit.ActionLogout)
	if claims, err := s.sessions.Validate(sessionToken); err == nil {
		event.Subject = claims.Subject
		event.Email = claims.Email
	}
	s.emit(ctx, event)
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit event dropped",
			"request_id", requestcontext.RequestID(ctx),
			"action", event.Action,
			"error", err,
		)
	}
}

func subjectOf(identity models.Identity) string {
	if identity.IsGuest() {
		return string(models.KindGuest)
	}
	return identity.Subject
}
