// Package health serves the liveness probe shared by both binaries.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"ssogate/pkg/platform/httputil"
)

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

// Response is the body of GET /healthz.
type Response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

const checkTimeout = 2 * time.Second

// Handler runs every check and answers 200 when all pass, 503 otherwise.
// Nil checks are skipped, so optional backends can be passed unconditionally.
func Handler(logger *slog.Logger, checks map[string]Check) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name, check := range checks {
		if check != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		resp := Response{Status: "ok"}
		status := http.StatusOK
		if len(names) > 0 {
			resp.Checks = make(map[string]string, len(names))
		}
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				logger.WarnContext(ctx, "health check failed", "check", name, "error", err)
				resp.Checks[name] = "unavailable"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		w.Header().Set("Cache-Control", "no-store")
		httputil.WriteJSON(w, status, resp)
	}
}
