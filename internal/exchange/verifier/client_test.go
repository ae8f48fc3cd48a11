package verifier

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"ssogate/internal/exchange/models"
	"ssogate/internal/platform/metrics"
	dErrors "ssogate/pkg/domain-errors"
	"ssogate/pkg/platform/sentinel"
)

type ClientSuite struct {
	suite.Suite
	handler http.HandlerFunc
	server  *httptest.Server
	client  *Client
	lastReq *http.Request
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	s.handler = nil
	s.lastReq = nil
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.lastReq = r
		s.handler(w, r)
	}))
	u, err := url.Parse(s.server.URL + "/verify")
	s.Require().NoError(err)
	s.client = New(u, "rp-key",
		WithTimeout(200*time.Millisecond),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
	)
}

func (s *ClientSuite) TearDownTest() {
	s.server.Close()
}

func (s *ClientSuite) respond(status int, body string) {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func (s *ClientSuite) TestSuccess() {
	s.respond(http.StatusOK, `{"kind":"user","sub":"u-1","email":"a@example.com"}`)

	identity, err := s.client.Verify(context.Background(), "tok_123")
	s.Require().NoError(err)
	s.Equal(models.UserIdentity("u-1", "a@example.com", nil), identity)

	s.Equal("/verify", s.lastReq.URL.Path)
	s.Equal("tok_123", s.lastReq.URL.Query().Get("sso"))
	s.Equal("rp-key", s.lastReq.URL.Query().Get("api_key"))
	s.Equal(http.MethodGet, s.lastReq.Method)
}

func (s *ClientSuite) TestGuest() {
	s.respond(http.StatusOK, `{"kind":"guest"}`)

	identity, err := s.client.Verify(context.Background(), "tok")
	s.Require().NoError(err)
	s.True(identity.IsGuest())
}

func (s *ClientSuite) TestStatusMapping() {
	s.Run("404 is not found", func() {
		s.respond(http.StatusNotFound, `{"error":"not_found"}`)
		_, err := s.client.Verify(context.Background(), "tok")
		s.True(errors.Is(err, sentinel.ErrNotFound))
	})

	s.Run("403 is forbidden", func() {
		s.respond(http.StatusForbidden, `{"error":"forbidden"}`)
		_, err := s.client.Verify(context.Background(), "tok")
		s.ErrorIs(err, ErrForbidden)
		s.False(errors.Is(err, sentinel.ErrNotFound))
	})

	s.Run("other statuses are unexpected", func() {
		for _, status := range []int{http.StatusBadRequest, http.StatusInternalServerError, http.StatusFound} {
			s.respond(status, `{}`)
			_, err := s.client.Verify(context.Background(), "tok")
			s.Require().Error(err)
			s.False(errors.Is(err, sentinel.ErrNotFound), status)
			s.True(dErrors.HasCode(err, dErrors.CodeInternal), status)
		}
	})
}

func (s *ClientSuite) TestMalformedBody() {
	s.Run("not json", func() {
		s.respond(http.StatusOK, `<html>`)
		_, err := s.client.Verify(context.Background(), "tok")
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})

	s.Run("unknown kind", func() {
		s.respond(http.StatusOK, `{"kind":"admin"}`)
		_, err := s.client.Verify(context.Background(), "tok")
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

func (s *ClientSuite) TestTimeout() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}

	_, err := s.client.Verify(context.Background(), "tok")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
	s.False(errors.Is(err, sentinel.ErrNotFound))
}

func (s *ClientSuite) TestTransportFailure() {
	s.server.Close()

	_, err := s.client.Verify(context.Background(), "tok")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func (s *ClientSuite) TestDoesNotFollowRedirects() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://elsewhere.invalid/steal", http.StatusFound)
	}

	_, err := s.client.Verify(context.Background(), "tok")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}
