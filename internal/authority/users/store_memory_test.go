package users

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"ssogate/internal/exchange/models"
	dErrors "ssogate/pkg/domain-errors"
	"ssogate/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.ctx = context.Background()
}

func (s *InMemoryStoreSuite) newUser(email string) *User {
	u, err := New(email, "correct horse", "Jane", time.Now())
	s.Require().NoError(err)
	return u
}

func (s *InMemoryStoreSuite) TestLookup() {
	u := s.newUser("Jane.Doe@Example.com")
	s.Require().NoError(s.store.Save(s.ctx, u))

	s.Run("by id", func() {
		found, err := s.store.FindByID(s.ctx, u.ID)
		s.Require().NoError(err)
		s.Equal(u, found)
	})

	s.Run("by email is case insensitive", func() {
		found, err := s.store.FindByEmail(s.ctx, "  JANE.DOE@example.COM ")
		s.Require().NoError(err)
		s.Equal(u.ID, found.ID)
	})

	s.Run("unknown user", func() {
		_, err := s.store.FindByID(s.ctx, uuid.New())
		s.ErrorIs(err, sentinel.ErrNotFound)
		_, err = s.store.FindByEmail(s.ctx, "nobody@example.com")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *InMemoryStoreSuite) TestEmailUniqueness() {
	first := s.newUser("dup@example.com")
	s.Require().NoError(s.store.Save(s.ctx, first))

	second := s.newUser("dup@example.com")
	s.ErrorIs(s.store.Save(s.ctx, second), sentinel.ErrInvalidState)

	s.Run("resaving the owner is fine", func() {
		s.NoError(s.store.Save(s.ctx, first))
	})

	s.Run("changing email frees the old one", func() {
		first.Email = "moved@example.com"
		s.Require().NoError(s.store.Save(s.ctx, first))
		s.NoError(s.store.Save(s.ctx, second))
	})
}

func (s *InMemoryStoreSuite) TestNewUser() {
	u := s.newUser(" Mixed@Example.com ")
	s.Equal("mixed@example.com", u.Email)
	s.True(u.CheckPassword("correct horse"))
	s.False(u.CheckPassword("wrong horse"))

	_, err := New("not-an-email", "correct horse", "", time.Now())
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	_, err = New("a@example.com", "short", "", time.Now())
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *InMemoryStoreSuite) TestIdentity() {
	u := s.newUser("jane@example.com")
	identity := u.Identity()
	s.Equal(models.KindUser, identity.Kind)
	s.Equal(u.ID.String(), identity.Subject)
	s.Equal("jane@example.com", identity.Email)
	s.Equal("Jane", identity.Profile["name"])
	s.True(identity.Valid())
}
