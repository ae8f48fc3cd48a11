package testutil

import (
	"net/http"

	"ssogate/internal/exchange/models"
	"ssogate/pkg/requestcontext"
)

// WithIdentity puts identity in the request context, as the handshake does
// after a successful verify.
func WithIdentity(req *http.Request, identity models.Identity) *http.Request {
	return req.WithContext(requestcontext.WithIdentity(req.Context(), identity))
}

// WithGuest marks the request as carrying the guest identity.
func WithGuest(req *http.Request) *http.Request {
	return WithIdentity(req, models.GuestIdentity())
}

// WithUser marks the request as authenticated for subject.
func WithUser(req *http.Request, subject, email string) *http.Request {
	return WithIdentity(req, models.UserIdentity(subject, email, nil))
}
