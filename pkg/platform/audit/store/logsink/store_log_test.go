package logsink

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "ssogate/pkg/platform/audit"
)

func TestAppendLogsSecurityEventsAsWarnings(t *testing.T) {
	var buf bytes.Buffer
	store := New(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, store.Append(context.Background(), audit.Event{
		ID:       "evt-1",
		Action:   audit.ActionLoginFailed,
		Category: audit.CategorySecurity,
		Reason:   "invalid_credentials",
	}))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "login_failed", line["action"])
	assert.Equal(t, "invalid_credentials", line["reason"])
}
