package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "ssogate/pkg/domain-errors"
)

var sessions = NewService("test-signing-key", "test-issuer")

func Test_IssueAndValidate(t *testing.T) {
	userID := uuid.New()
	token, err := sessions.Issue(userID, "jane@example.com", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := sessions.Validate(token)
	require.NoError(t, err)
	got, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, userID, got)
	assert.Equal(t, "jane@example.com", claims.Email)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func Test_Validate_Garbage(t *testing.T) {
	_, err := sessions.Validate("invalid-token-string")
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, "invalid session"))
}

func Test_Validate_Expired(t *testing.T) {
	token, err := sessions.Issue(uuid.New(), "jane@example.com", -time.Hour)
	require.NoError(t, err)

	_, err = sessions.Validate(token)
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, "session has expired"))
}

func Test_Validate_WrongKey(t *testing.T) {
	token, err := NewService("other-key", "test-issuer").Issue(uuid.New(), "a@example.com", time.Hour)
	require.NoError(t, err)

	_, err = sessions.Validate(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func Test_Validate_WrongIssuer(t *testing.T) {
	token, err := NewService("test-signing-key", "someone-else").Issue(uuid.New(), "a@example.com", time.Hour)
	require.NoError(t, err)

	_, err = sessions.Validate(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func Test_Validate_RejectsNoneAlg(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			Issuer:    "test-issuer",
			Audience:  []string{audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = sessions.Validate(signed)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}
