// Package verifier redeems exchange tokens against the Authority's verify
// endpoint on behalf of a Relying Party.
package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ssogate/internal/exchange/models"
	"ssogate/internal/exchange/protocol"
	"ssogate/internal/platform/metrics"
	dErrors "ssogate/pkg/domain-errors"
	"ssogate/pkg/platform/sentinel"
)

const (
	// DefaultTimeout bounds one verify round trip.
	DefaultTimeout = 5 * time.Second

	maxBodyBytes = 1 << 20
	tracerName   = "ssogate/internal/exchange/verifier"
)

// ErrForbidden means the Authority rejected this Relying Party's API key.
var ErrForbidden = dErrors.New(dErrors.CodeForbidden, "verify rejected the api key")

// Client performs a single, unretried verify request per call.
type Client struct {
	verifyURL *url.URL
	apiKey    string
	http      *http.Client
	timeout   time.Duration
	tracer    trace.Tracer
	metrics   *metrics.Exchange
}

type Option func(*Client)

// WithHTTPClient supplies the base client. It is copied, never mutated.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

func WithMetrics(m *metrics.Exchange) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New builds a Client for the verify endpoint at verifyURL.
func New(verifyURL *url.URL, apiKey string, opts ...Option) *Client {
	c := &Client{
		verifyURL: verifyURL,
		apiKey:    apiKey,
		http:      &http.Client{},
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	hc := *c.http
	switch {
	case c.timeout > 0:
		hc.Timeout = c.timeout
	case hc.Timeout == 0:
		hc.Timeout = DefaultTimeout
	}
	// A redirect would carry the api key to another URL.
	hc.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	c.http = &hc
	return c
}

// Verify redeems id and returns the identity it carried.
//
// Error Contract:
//   - errors.Is(err, sentinel.ErrNotFound): unknown, consumed or expired token
//   - ErrForbidden: the api key was rejected
//   - any other error: transport failure, timeout or malformed response
func (c *Client) Verify(ctx context.Context, id string) (models.Identity, error) {
	ctx, span := c.tracer.Start(ctx, "verifier.Verify",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("sso.token_fingerprint", protocol.Fingerprint(id)),
			attribute.String("server.address", c.verifyURL.Host),
		),
	)
	defer span.End()

	start := time.Now()
	identity, outcome, err := c.do(ctx, id)
	c.metrics.ObserveVerifyLatency(float64(time.Since(start).Milliseconds()))
	span.SetAttributes(attribute.String("sso.outcome", outcome))
	if err != nil && outcome == metrics.OutcomeError {
		span.RecordError(err)
		span.SetStatus(codes.Error, "verify failed")
	}
	return identity, err
}

func (c *Client) do(ctx context.Context, id string) (models.Identity, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, protocol.VerifyURL(c.verifyURL, id, c.apiKey), nil)
	if err != nil {
		return models.Identity{}, metrics.OutcomeError, dErrors.Wrap(err, dErrors.CodeInternal, "build verify request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return models.Identity{}, metrics.OutcomeError, dErrors.Wrap(err, dErrors.CodeTimeout, "verify request timed out")
		}
		return models.Identity{}, metrics.OutcomeError, dErrors.Wrap(err, dErrors.CodeUnavailable, "verify request failed")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return models.Identity{}, metrics.OutcomeNotFound, fmt.Errorf("verify token: %w", sentinel.ErrNotFound)
	case http.StatusForbidden:
		return models.Identity{}, metrics.OutcomeForbidden, ErrForbidden
	default:
		return models.Identity{}, metrics.OutcomeError, dErrors.New(dErrors.CodeInternal,
			fmt.Sprintf("unexpected verify status %d", resp.StatusCode))
	}

	var identity models.Identity
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&identity); err != nil {
		return models.Identity{}, metrics.OutcomeError, dErrors.Wrap(err, dErrors.CodeInternal, "decode verify response")
	}
	if !identity.Valid() {
		return models.Identity{}, metrics.OutcomeError, dErrors.New(dErrors.CodeInternal, "verify response carried no valid identity")
	}
	return identity, metrics.OutcomeSuccess, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
