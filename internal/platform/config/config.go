package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"ssogate/internal/exchange/models"
	platformstrings "ssogate/pkg/platform/strings"
)

// Redis captures connection settings for the shared token store.
type Redis struct {
	URL          string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Postgres captures connection settings for the user profile store.
type Postgres struct {
	URL      string
	MaxConns int32
}

// Kafka captures the audit sink settings.
type Kafka struct {
	Brokers []string
	Topic   string
}

// DemoUser seeds the in-memory user store when no database is configured.
type DemoUser struct {
	Email    string
	Password string
}

// Authority is the configuration of the token-issuing service.
type Authority struct {
	Addr               string
	PublicURL          *url.URL
	LogLevel           string
	TokenBytes         int
	TokenLifetime      time.Duration
	APIKeys            []string
	AllowedOriginHosts []string
	JWTSigningKey      string
	JWTIssuer          string
	SessionTTL         time.Duration
	Redis              Redis
	Postgres           Postgres
	Kafka              Kafka
	DemoUser           DemoUser
}

// RelyingParty is the configuration of a service guarded by the handshake.
type RelyingParty struct {
	Addr                  string
	LogLevel              string
	AuthenticateURL       *url.URL
	VerifyURL             *url.URL
	LoginURL              *url.URL
	APIKey                string
	TokenLifetime         time.Duration
	VerifyTimeout         time.Duration
	TrustForwardedHeaders bool
}

// Secure reports whether the Authority is reached over TLS, which decides
// the Secure attribute of its session cookie.
func (a Authority) Secure() bool {
	return a.PublicURL != nil && a.PublicURL.Scheme == "https"
}

// Secure reports whether the handshake cookie must be marked Secure. It
// follows the scheme of the Authority the deployment talks to.
func (rp RelyingParty) Secure() bool {
	return rp.AuthenticateURL != nil && rp.AuthenticateURL.Scheme == "https"
}

// DevJWTSigningKey signs sessions when SSO_JWT_SIGNING_KEY is unset. It is
// public, so it is refused for https deployments.
const DevJWTSigningKey = "dev-secret-key-change-in-production"

// Warnings lists settings that are accepted but unsafe outside development.
func (a Authority) Warnings() []string {
	var out []string
	if a.JWTSigningKey == DevJWTSigningKey {
		out = append(out, "SSO_JWT_SIGNING_KEY is unset; sessions are signed with the public development key")
	}
	if len(a.AllowedOriginHosts) == 0 {
		out = append(out, "SSO_ALLOWED_ORIGIN_HOSTS is empty; any site may obtain exchange tokens")
	}
	return out
}

// Getenv matches os.Getenv; injected so tests do not mutate the process env.
type Getenv func(string) string

// AuthorityFromEnv builds the Authority config from environment variables.
func AuthorityFromEnv(getenv Getenv) (Authority, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	r := reader{getenv: getenv}

	jwtKey := getenv("SSO_JWT_SIGNING_KEY")
	if jwtKey == "" {
		// Use a default for development - should be overridden in production
		jwtKey = DevJWTSigningKey
	}

	cfg := Authority{
		Addr:               r.str("SSO_AUTHORITY_ADDR", ":8080"),
		PublicURL:          r.url("SSO_PUBLIC_URL", "http://localhost:8080"),
		LogLevel:           r.str("SSO_LOG_LEVEL", "info"),
		TokenBytes:         r.int("SSO_TOKEN_BYTES", models.DefaultTokenBytes),
		TokenLifetime:      r.millis("SSO_TOKEN_LIFETIME_MS", models.DefaultTokenLifetime),
		APIKeys:            r.list("SSO_API_KEYS"),
		AllowedOriginHosts: platformstrings.Fold(r.list("SSO_ALLOWED_ORIGIN_HOSTS")),
		JWTSigningKey:      jwtKey,
		JWTIssuer:          r.str("SSO_JWT_ISSUER", "ssogate"),
		SessionTTL:         r.duration("SSO_SESSION_TTL", 24*time.Hour),
		Redis: Redis{
			URL:          getenv("SSO_REDIS_URL"),
			PoolSize:     r.int("SSO_REDIS_POOL_SIZE", 10),
			DialTimeout:  r.duration("SSO_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  r.duration("SSO_REDIS_READ_TIMEOUT", time.Second),
			WriteTimeout: r.duration("SSO_REDIS_WRITE_TIMEOUT", time.Second),
		},
		Postgres: Postgres{
			URL:      getenv("SSO_DATABASE_URL"),
			MaxConns: int32(r.int("SSO_DATABASE_MAX_CONNS", 10)),
		},
		Kafka: Kafka{
			Brokers: r.list("SSO_KAFKA_BROKERS"),
			Topic:   r.str("SSO_AUDIT_TOPIC", "ssogate.audit"),
		},
		DemoUser: DemoUser{
			Email:    getenv("SSO_DEMO_USER_EMAIL"),
			Password: getenv("SSO_DEMO_USER_PASSWORD"),
		},
	}
	if r.err != nil {
		return Authority{}, r.err
	}
	if cfg.TokenBytes < 16 || cfg.TokenBytes > models.MaxTokenBytes {
		return Authority{}, fmt.Errorf("SSO_TOKEN_BYTES must be between 16 and %d, got %d", models.MaxTokenBytes, cfg.TokenBytes)
	}
	if cfg.Secure() && cfg.JWTSigningKey == DevJWTSigningKey {
		return Authority{}, fmt.Errorf("SSO_JWT_SIGNING_KEY is required when SSO_PUBLIC_URL is https")
	}
	if len(cfg.APIKeys) == 0 {
		return Authority{}, fmt.Errorf("SSO_API_KEYS must list at least one key")
	}
	return cfg, nil
}

// RelyingPartyFromEnv builds the Relying Party config from environment variables.
func RelyingPartyFromEnv(getenv Getenv) (RelyingParty, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	r := reader{getenv: getenv}

	cfg := RelyingParty{
		Addr:                  r.str("SSO_RP_ADDR", ":8081"),
		LogLevel:              r.str("SSO_LOG_LEVEL", "info"),
		AuthenticateURL:       r.url("SSO_AUTHENTICATE_URL", "http://localhost:8080/authenticate"),
		VerifyURL:             r.url("SSO_VERIFY_URL", "http://localhost:8080/verify"),
		LoginURL:              r.url("SSO_LOGIN_URL", "http://localhost:8080/"),
		APIKey:                r.str("SSO_API_KEY", "none"),
		TokenLifetime:         r.millis("SSO_TOKEN_LIFETIME_MS", models.DefaultTokenLifetime),
		VerifyTimeout:         r.duration("SSO_VERIFY_TIMEOUT", 5*time.Second),
		TrustForwardedHeaders: r.bool("SSO_TRUST_FORWARDED_HEADERS", false),
	}
	if r.err != nil {
		return RelyingParty{}, r.err
	}
	return cfg, nil
}

// reader accumulates the first parse failure so call sites stay flat.
type reader struct {
	getenv Getenv
	err    error
}

func (r *reader) fail(key, raw string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("invalid %s=%q: %w", key, raw, err)
	}
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) int(key string, def int) int {
	raw := strings.TrimSpace(r.getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		r.fail(key, raw, err)
		return def
	}
	return n
}

func (r *reader) bool(key string, def bool) bool {
	raw := strings.TrimSpace(r.getenv(key))
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		r.fail(key, raw, err)
		return def
	}
	return b
}

func (r *reader) millis(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(r.getenv(key))
	if raw == "" {
		return def
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		r.fail(key, raw, err)
		return def
	}
	if ms <= 0 {
		r.fail(key, raw, fmt.Errorf("must be positive"))
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(r.getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		r.fail(key, raw, err)
		return def
	}
	return d
}

func (r *reader) url(key, def string) *url.URL {
	raw := r.str(key, def)
	u, err := url.Parse(raw)
	if err != nil {
		r.fail(key, raw, err)
		return nil
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		r.fail(key, raw, fmt.Errorf("must be an absolute http(s) URL"))
		return nil
	}
	return u
}

func (r *reader) list(key string) []string {
	return platformstrings.SplitList(r.getenv(key))
}
