package users

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"ssogate/internal/exchange/models"
	dErrors "ssogate/pkg/domain-errors"
)

// User is an account known to the Authority.
type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash []byte
	DisplayName  string
	Profile      map[string]any
	CreatedAt    time.Time
}

// Store persists users.
//
// Error Contract:
//   - FindByID and FindByEmail return sentinel.ErrNotFound for unknown users.
//   - Save returns sentinel.ErrInvalidState when the email is already taken
//     by another user.
type Store interface {
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	Save(ctx context.Context, user *User) error
}

// Identity is the claim carried for u in an exchange token.
func (u *User) Identity() models.Identity {
	profile := map[string]any{}
	for k, v := range u.Profile {
		profile[k] = v
	}
	if u.DisplayName != "" {
		profile["name"] = u.DisplayName
	}
	if len(profile) == 0 {
		profile = nil
	}
	return models.UserIdentity(u.ID.String(), u.Email, profile)
}

// NormalizeEmail lowercases and trims an email for lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CheckPassword reports whether password matches the stored hash.
func (u *User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) == nil
}

// New builds a user with a bcrypt hash of password.
func New(email, password, displayName string, now time.Time) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "email is invalid")
	}
	if len(password) < 8 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "password cannot be hashed")
	}
	return &User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		DisplayName:  displayName,
		CreatedAt:    now,
	}, nil
}
