package handshake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"ssogate/internal/exchange/handshake/mocks"
	"ssogate/internal/exchange/models"
	"ssogate/internal/exchange/protocol"
	"ssogate/internal/platform/metrics"
	"ssogate/pkg/platform/sentinel"
	"ssogate/pkg/requestcontext"
	"ssogate/pkg/testutil"
)

//go:generate mockgen -source=handshake.go -destination=mocks/verifier-mocks.go -package=mocks Verifier

const validToken = "tok_ABCdef-123"

type HandshakeSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	verifier *mocks.MockVerifier
	metrics  *metrics.Exchange
	mw       *Middleware

	nextCalls int
	seen      models.Identity
	handler   http.Handler
}

func TestHandshakeSuite(t *testing.T) {
	suite.Run(t, new(HandshakeSuite))
}

func (s *HandshakeSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.verifier = mocks.NewMockVerifier(s.ctrl)
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.nextCalls = 0
	s.seen = models.Identity{}
	s.build()
}

func (s *HandshakeSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *HandshakeSuite) build(opts ...Option) {
	authURL, err := url.Parse("http://auth.example.com/authenticate")
	s.Require().NoError(err)

	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
	}
	s.mw = New(authURL, s.verifier, append(base, opts...)...)
	s.handler = s.mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.nextCalls++
		s.seen, _ = requestcontext.Identity(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
}

func (s *HandshakeSuite) serve(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func withMarker(req *http.Request, value string) *http.Request {
	req.AddCookie(&http.Cookie{Name: protocol.MarkerCookie, Value: value})
	return req
}

func responseCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func expectedAuthenticate(origin string) string {
	return "http://auth.example.com/authenticate?origin=" + url.QueryEscape(origin)
}

func (s *HandshakeSuite) assertMarkerCleared(rr *httptest.ResponseRecorder) {
	c := responseCookie(rr, protocol.MarkerCookie)
	s.Require().NotNil(c, "marker cookie must be cleared")
	s.Empty(c.Value)
	s.Less(c.MaxAge, 0)
}

func (s *HandshakeSuite) TestLandingWithToken() {
	req := httptest.NewRequest(http.MethodGet, "http://app.example.com/page?a=1&sso="+validToken+"&b=2", nil)

	rr := s.serve(req)

	s.Equal(http.StatusTemporaryRedirect, rr.Code)
	s.Equal("http://app.example.com/page?a=1&b=2", rr.Header().Get("Location"))
	c := responseCookie(rr, protocol.MarkerCookie)
	s.Require().NotNil(c)
	s.Equal(validToken, c.Value)
	s.Equal(10, c.MaxAge)
	s.True(c.HttpOnly)
	s.False(c.Secure)
	s.Equal("/", c.Path)
	s.Zero(s.nextCalls)
	s.Equal(1.0, promtest.ToFloat64(s.metrics.HandshakeSteps.WithLabelValues(StepLanding, metrics.OutcomeSuccess)))
}

func (s *HandshakeSuite) TestLandingWinsOverMarkerCookie() {
	req := withMarker(httptest.NewRequest(http.MethodGet, "http://app.example.com/?sso="+validToken, nil), "older")

	rr := s.serve(req)

	s.Equal(http.StatusTemporaryRedirect, rr.Code)
	s.Equal(validToken, responseCookie(rr, protocol.MarkerCookie).Value)
}

func (s *HandshakeSuite) TestLandingWithMalformedToken() {
	req := httptest.NewRequest(http.MethodGet, "http://app.example.com/?sso=%3Cscript%3E&x=1", nil)

	rr := s.serve(req)

	s.Equal(http.StatusTemporaryRedirect, rr.Code)
	s.Equal("http://app.example.com/?x=1", rr.Header().Get("Location"))
	s.Nil(responseCookie(rr, protocol.MarkerCookie))
}

func (s *HandshakeSuite) TestNoTokenRedirectsToAuthenticate() {
	req := httptest.NewRequest(http.MethodGet, "http://app.example.com/page?a=1", nil)

	rr := s.serve(req)

	s.Equal(http.StatusTemporaryRedirect, rr.Code)
	s.Equal(expectedAuthenticate("http://app.example.com/page?a=1"), rr.Header().Get("Location"))
	s.Nil(responseCookie(rr, protocol.MarkerCookie))
	s.Zero(s.nextCalls)
}

func (s *HandshakeSuite) TestNoTokenJSONRedirect() {
	req := httptest.NewRequest(http.MethodGet, "http://app.example.com/api", nil)
	req.Header.Set("Accept", "application/json")

	rr := s.serve(req)

	s.Equal(http.StatusOK, rr.Code)
	var body protocol.RedirectResponse
	s.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &body))
	s.Equal(expectedAuthenticate("http://app.example.com/api"), body.Redirect)
	s.Zero(s.nextCalls)
}

func (s *HandshakeSuite) TestVerifySuccess() {
	user := models.UserIdentity("u-1", "a@example.com", nil)
	s.verifier.EXPECT().Verify(gomock.Any(), validToken).Return(user, nil)

	rr := s.serve(withMarker(httptest.NewRequest(http.MethodGet, "http://app.example.com/", nil), validToken))

	s.Equal(http.StatusOK, rr.Code)
	s.Equal(1, s.nextCalls)
	s.Equal(user, s.seen)
	s.assertMarkerCleared(rr)
}

func (s *HandshakeSuite) TestVerifyGuest() {
	s.verifier.EXPECT().Verify(gomock.Any(), validToken).Return(models.GuestIdentity(), nil)

	rr := s.serve(withMarker(httptest.NewRequest(http.MethodGet, "http://app.example.com/", nil), validToken))

	s.Equal(http.StatusOK, rr.Code)
	s.True(s.seen.IsGuest())
	s.assertMarkerCleared(rr)
}

func (s *HandshakeSuite) TestVerifyNotFoundReauthenticates() {
	s.verifier.EXPECT().Verify(gomock.Any(), validToken).
		Return(models.Identity{}, fmt.Errorf("verify token: %w", sentinel.ErrNotFound))

	rr := s.serve(withMarker(httptest.NewRequest(http.MethodGet, "http://app.example.com/p?q=1", nil), validToken))

	s.Equal(http.StatusTemporaryRedirect, rr.Code)
	s.Equal(expectedAuthenticate("http://app.example.com/p?q=1"), rr.Header().Get("Location"))
	s.Zero(s.nextCalls)
	s.assertMarkerCleared(rr)
}

func (s *HandshakeSuite) TestVerifyErrorUsesErrorHandler() {
	failure := errors.New("authority down")
	s.verifier.EXPECT().Verify(gomock.Any(), validToken).Return(models.Identity{}, failure)

	var handled error
	s.build(WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
		handled = err
		w.WriteHeader(http.StatusBadGateway)
	}))

	rr := s.serve(withMarker(httptest.NewRequest(http.MethodGet, "http://app.example.com/", nil), validToken))

	s.Equal(http.StatusBadGateway, rr.Code)
	s.ErrorIs(handled, failure)
	s.Zero(s.nextCalls)
	s.assertMarkerCleared(rr)
}

func (s *HandshakeSuite) TestVerifyErrorDefaultHandler() {
	s.verifier.EXPECT().Verify(gomock.Any(), validToken).Return(models.Identity{}, errors.New("boom"))

	rr := s.serve(withMarker(httptest.NewRequest(http.MethodGet, "http://app.example.com/", nil), validToken))

	s.Equal(http.StatusInternalServerError, rr.Code)
	s.JSONEq(`{"error":"internal_error"}`, rr.Body.String())
	s.Zero(s.nextCalls)
	s.assertMarkerCleared(rr)
}

func (s *HandshakeSuite) TestVerifyIsBounded() {
	s.build(WithVerifyTimeout(50 * time.Millisecond))
	s.verifier.EXPECT().Verify(gomock.Any(), validToken).DoAndReturn(
		func(ctx context.Context, _ string) (models.Identity, error) {
			deadline, ok := ctx.Deadline()
			s.True(ok)
			s.WithinDuration(time.Now().Add(50*time.Millisecond), deadline, 50*time.Millisecond)
			<-ctx.Done()
			return models.Identity{}, ctx.Err()
		})

	rr := s.serve(withMarker(httptest.NewRequest(http.MethodGet, "http://app.example.com/", nil), validToken))

	s.Equal(http.StatusInternalServerError, rr.Code)
	s.Zero(s.nextCalls)
}

func (s *HandshakeSuite) TestMalformedMarkerSkipsVerify() {
	rr := s.serve(withMarker(httptest.NewRequest(http.MethodGet, "http://app.example.com/", nil), "not!a!token"))

	s.Equal(http.StatusTemporaryRedirect, rr.Code)
	s.Equal(expectedAuthenticate("http://app.example.com/"), rr.Header().Get("Location"))
	s.assertMarkerCleared(rr)
}

func (s *HandshakeSuite) TestSecureCookiesFollowAuthority() {
	authURL, err := url.Parse("https://auth.example.com/authenticate")
	s.Require().NoError(err)
	h := New(authURL, s.verifier, WithCookieLifetime(3*time.Second)).Handler(http.NotFoundHandler())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "https://app.example.com/?sso="+validToken, nil))

	c := responseCookie(rr, protocol.MarkerCookie)
	s.Require().NotNil(c)
	s.True(c.Secure)
	s.Equal(3, c.MaxAge)
	s.Equal("https://app.example.com/", rr.Header().Get("Location"))
}

func (s *HandshakeSuite) TestRequireUser() {
	loginURL, err := url.Parse("http://auth.example.com/")
	s.Require().NoError(err)
	guarded := s.mw.RequireUser(loginURL)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	s.Run("guest is sent to login", func() {
		req := testutil.WithGuest(httptest.NewRequest(http.MethodGet, "http://app.example.com/me", nil))
		rr := testutil.DoRequest(guarded, req)

		testutil.AssertRedirect(s.T(), rr, http.StatusTemporaryRedirect,
			"http://auth.example.com/?origin="+url.QueryEscape("http://app.example.com/me"))
	})

	s.Run("user passes", func() {
		req := testutil.WithUser(httptest.NewRequest(http.MethodGet, "http://app.example.com/me", nil), "u-1", "")
		rr := testutil.DoRequest(guarded, req)

		s.Equal(http.StatusNoContent, rr.Code)
	})
}
