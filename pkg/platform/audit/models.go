package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ssogate/pkg/requestcontext"
)

// Category classifies audit events for routing and retention.
type Category string

const (
	// CategorySecurity covers events relevant to security monitoring:
	// failed logins and rejected redemptions.
	CategorySecurity Category = "security"
	// CategoryOperations covers routine exchange activity.
	CategoryOperations Category = "operations"
)

// Action names what happened.
type Action string

const (
	ActionTokenIssued    Action = "token_issued"
	ActionTokenRedeemed  Action = "token_redeemed"
	ActionVerifyRejected Action = "verify_rejected"
	ActionLoginSucceeded Action = "login_succeeded"
	ActionLoginFailed    Action = "login_failed"
	ActionLogout         Action = "logout"
)

var actionCategories = map[Action]Category{
	ActionVerifyRejected: CategorySecurity,
	ActionLoginFailed:    CategorySecurity,
}

// Category returns the category of a. Unknown actions are operational.
func (a Action) Category() Category {
	if c, ok := actionCategories[a]; ok {
		return c
	}
	return CategoryOperations
}

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out. Token ids never appear
// in full; Token holds a fingerprint.
type Event struct {
	ID        string    `json:"id"`
	Action    Action    `json:"action"`
	Category  Category  `json:"category"`
	Timestamp time.Time `json:"timestamp"`
	Subject   string    `json:"subject,omitempty"`
	Email     string    `json:"email,omitempty"`
	Origin    string    `json:"origin,omitempty"`
	Token     string    `json:"token,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	ClientIP  string    `json:"client_ip,omitempty"`
	Device    string    `json:"device,omitempty"`
}

// NewEvent stamps an event with request-scoped metadata from ctx.
func NewEvent(ctx context.Context, action Action) Event {
	return Event{
		ID:        uuid.NewString(),
		Action:    action,
		Category:  action.Category(),
		Timestamp: requestcontext.Now(ctx),
		RequestID: requestcontext.RequestID(ctx),
		ClientIP:  requestcontext.ClientIP(ctx),
		Device:    DeviceSummary(requestcontext.UserAgent(ctx)),
	}
}

// Store receives audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}
