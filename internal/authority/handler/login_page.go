package handler

import (
	"html/template"
	"net/http"

	"ssogate/internal/exchange/protocol"
	dErrors "ssogate/pkg/domain-errors"
)

var loginPage = template.Must(template.New("login").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>Sign in</title></head>
<body>
{{if .Error}}<p role="alert">{{.Error}}</p>
{{end}}<form method="post" action="/login">
  <input type="hidden" name="origin" value="{{.Origin}}">
  <label>Email <input type="email" name="email" autocomplete="username" required></label>
  <label>Password <input type="password" name="password" autocomplete="current-password" required></label>
  <button type="submit">Sign in</button>
</form>
</body>
</html>
`))

type loginPageData struct {
	Origin string
	Error  string
}

// handleLoginPage renders the sign-in form. The origin is carried through
// so a successful login resumes the handshake.
func (h *Handler) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	h.renderLoginPage(w, r, http.StatusOK, r.URL.Query().Get(protocol.ParamOrigin), "")
}

func (h *Handler) renderLoginPage(w http.ResponseWriter, r *http.Request, status int, origin, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := loginPage.Execute(w, loginPageData{Origin: origin, Error: message}); err != nil {
		h.logger.ErrorContext(r.Context(), "render login page", "error", err)
	}
}

func loginFailureMessage(err error) string {
	switch errorCode(err) {
	case dErrors.CodeForbidden, dErrors.CodeUnauthorized:
		return "Incorrect email or password."
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput:
		return "Email and password are required."
	default:
		return "Sign-in is unavailable right now. Please try again."
	}
}
