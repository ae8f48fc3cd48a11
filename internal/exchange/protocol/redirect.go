package protocol

import (
	"net/http"

	"github.com/munnerz/goautoneg"

	"ssogate/pkg/platform/httputil"
)

// Redirector sends a browser to target. The handshake picks one per request
// and calls it exactly once.
type Redirector interface {
	Redirect(w http.ResponseWriter, r *http.Request, target string)
}

// HTTPRedirect answers with a Location header.
type HTTPRedirect struct {
	Code int
}

func (h HTTPRedirect) Redirect(w http.ResponseWriter, r *http.Request, target string) {
	code := h.Code
	if code == 0 {
		code = http.StatusTemporaryRedirect
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, target, code)
}

// JSONRedirect answers 200 with {"redirect": target} for script callers that
// cannot follow cross-origin redirects.
type JSONRedirect struct{}

// RedirectResponse is the body written by JSONRedirect.
type RedirectResponse struct {
	Redirect string `json:"redirect"`
}

func (JSONRedirect) Redirect(w http.ResponseWriter, _ *http.Request, target string) {
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, RedirectResponse{Redirect: target})
}

var offers = []string{"text/html", "application/json"}

// NegotiateRedirector prefers JSONRedirect only when the Accept header ranks
// application/json above text/html. code is used for HTTP redirects.
func NegotiateRedirector(r *http.Request, code int) Redirector {
	if accept := r.Header.Get("Accept"); accept != "" {
		if goautoneg.Negotiate(accept, offers) == "application/json" {
			return JSONRedirect{}
		}
	}
	return HTTPRedirect{Code: code}
}
