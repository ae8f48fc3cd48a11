// Package handler exposes the Authority over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"ssogate/internal/authority/service"
	"ssogate/internal/exchange/models"
	"ssogate/internal/exchange/protocol"
	dErrors "ssogate/pkg/domain-errors"
	"ssogate/pkg/platform/httputil"
	"ssogate/pkg/platform/middleware/request"
)

//go:generate mockgen -source=handler.go -destination=mocks/service-mocks.go -package=mocks Service

// Service is the Authority behaviour the transport depends on.
type Service interface {
	Authenticate(ctx context.Context, rawOrigin, sessionToken string) (*service.AuthenticateResult, error)
	Verify(ctx context.Context, tokenID, apiKey string) (models.Identity, error)
	Login(ctx context.Context, email, password string) (*service.LoginResult, error)
	Logout(ctx context.Context, sessionToken string)
	SessionTTL() time.Duration
}

const maxBodyBytes = 1 << 20

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Origin   string `json:"origin,omitempty"`
}

// LoginResponse describes the signed-in user.
type LoginResponse struct {
	Subject string `json:"subject"`
	Email   string `json:"email"`
}

// Handler serves the Authority endpoints.
type Handler struct {
	svc    Service
	logger *slog.Logger
	secure bool
}

// New creates a Handler. secure forces the Secure attribute on the session
// cookie; without it the attribute follows the request's TLS state.
func New(svc Service, logger *slog.Logger, secure bool) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger, secure: secure}
}

// Register mounts the Authority routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/", h.handleLoginPage)
	r.HandleFunc("/authenticate", h.handleAuthenticate)
	r.Get("/verify", h.handleVerify)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
}

func (h *Handler) secureCookie(r *http.Request) bool {
	return h.secure || r.TLS != nil
}

func (h *Handler) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	result, err := h.svc.Authenticate(ctx,
		r.URL.Query().Get(protocol.ParamOrigin),
		protocol.CookieValue(r, protocol.SessionCookie),
	)
	if err != nil {
		h.writeError(ctx, w, "authenticate failed", err)
		return
	}
	if result.ClearSession {
		http.SetCookie(w, protocol.ClearSessionCookie(h.secureCookie(r)))
	}
	protocol.NegotiateRedirector(r, http.StatusFound).Redirect(w, r, result.RedirectURL)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	identity, err := h.svc.Verify(ctx, q.Get(protocol.ParamToken), q.Get(protocol.ParamAPIKey))
	if err != nil {
		h.writeError(ctx, w, "verify failed", err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, identity)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, form, err := decodeLogin(w, r)
	if err != nil {
		h.writeError(ctx, w, "invalid login request", err)
		return
	}

	result, err := h.svc.Login(ctx, req.Email, req.Password)
	if err != nil {
		if form {
			h.logError(ctx, "login failed", err)
			h.renderLoginPage(w, r, dErrors.HTTPStatus(errorCode(err)), req.Origin, loginFailureMessage(err))
			return
		}
		h.writeError(ctx, w, "login failed", err)
		return
	}
	http.SetCookie(w, protocol.NewSessionCookie(result.Session, h.svc.SessionTTL(), h.secureCookie(r)))

	// A form post from the login page continues the handshake it came from.
	if req.Origin != "" {
		target := protocol.WithOrigin(&url.URL{Path: "/authenticate"}, req.Origin)
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, LoginResponse{
		Subject: result.User.ID.String(),
		Email:   result.User.Email,
	})
}

// decodeLogin reads a JSON or urlencoded body; form reports the latter.
func decodeLogin(w http.ResponseWriter, r *http.Request) (req LoginRequest, form bool, err error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return req, true, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid form body")
		}
		req.Email = r.PostForm.Get("email")
		req.Password = r.PostForm.Get("password")
		req.Origin = r.PostForm.Get(protocol.ParamOrigin)
		return req, true, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, false, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body")
	}
	return req, false, nil
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.svc.Logout(r.Context(), protocol.CookieValue(r, protocol.SessionCookie))
	http.SetCookie(w, protocol.ClearSessionCookie(h.secureCookie(r)))
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func errorCode(err error) dErrors.Code {
	if de, ok := dErrors.As(err); ok {
		return de.Code
	}
	return dErrors.CodeInternal
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	h.logError(ctx, msg, err)
	httputil.WriteError(w, err)
}

func (h *Handler) logError(ctx context.Context, msg string, err error) {
	code := errorCode(err)
	if dErrors.HTTPStatus(code) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg,
			"request_id", request.GetRequestID(ctx),
			"error", err,
		)
	} else {
		h.logger.InfoContext(ctx, msg,
			"request_id", request.GetRequestID(ctx),
			"code", code,
		)
	}
}
