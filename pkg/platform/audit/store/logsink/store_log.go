// Package logsink writes audit events to a structured logger. It is the
// default audit store when no broker is configured.
package logsink

import (
	"context"
	"log/slog"

	audit "ssogate/pkg/platform/audit"
)

type Store struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Store {
	return &Store{logger: logger}
}

func (s *Store) Append(ctx context.Context, e audit.Event) error {
	level := slog.LevelInfo
	if e.Category == audit.CategorySecurity {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "audit",
		slog.String("event_id", e.ID),
		slog.String("action", string(e.Action)),
		slog.String("category", string(e.Category)),
		slog.Time("timestamp", e.Timestamp),
		slog.String("subject", e.Subject),
		slog.String("origin", e.Origin),
		slog.String("token", e.Token),
		slog.String("reason", e.Reason),
		slog.String("request_id", e.RequestID),
		slog.String("client_ip", e.ClientIP),
		slog.String("device", e.Device),
	)
	return nil
}
