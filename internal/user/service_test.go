package user

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"petconnect/internal/auth"
	"petconnect/internal/db"
)

func newTestService(t *testing.T) (*Service, *auth.Tokens) {
	t.Helper()
	gdb, err := db.NewSQLite(":memory:")
	require.NoError(t, err)
	repo := NewGormRepository(gdb)
	require.NoError(t, repo.Migrate())

	tokens := auth.NewTokens("secret", time.Hour)
	s := NewService(repo, tokens)
	s.cost = bcrypt.MinCost
	return s, tokens
}

func TestRegisterAndLogin(t *testing.T) {
	s, tokens := newTestService(t)
	ctx := context.Background()

	u, err := s.Register(ctx, &RegisterRequest{Name: "Ana", Email: " Ana@Example.com ", Password: "correct horse", Role: RoleWalker})
	require.NoError(t, err)
	require.NotEmpty(t, u.ID)
	require.Equal(t, "ana@example.com", u.Email)
	require.Empty(t, u.Password)

	res, err := s.Login(ctx, &LoginRequest{Email: "ana@example.com", Password: "correct horse"})
	require.NoError(t, err)
	require.Equal(t, u.ID, res.User.ID)
	require.Empty(t, res.User.Password)

	id, err := tokens.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	require.Equal(t, auth.Identity{UserID: u.ID, Name: "Ana", Role: RoleWalker}, id)

	_, err = s.Login(ctx, &LoginRequest{Email: "ana@example.com", Password: "wrong password"})
	require.ErrorIs(t, err, ErrBadCredentials)
	_, err = s.Login(ctx, &LoginRequest{Email: "nobody@example.com", Password: "correct horse"})
	require.ErrorIs(t, err, ErrBadCredentials)
}

func TestRegisterValidation(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	for name, req := range map[string]RegisterRequest{
		"no name":   {Email: "a@b.co", Password: "longenough"},
		"bad email": {Name: "A", Email: "nope", Password: "longenough"},
		"short pw":  {Name: "A", Email: "a@b.co", Password: "short"},
		"admin":     {Name: "A", Email: "a@b.co", Password: "longenough", Role: RoleAdmin},
	} {
		req := req
		t.Run(name, func(t *testing.T) {
			_, err := s.Register(ctx, &req)
			require.ErrorIs(t, err, ErrInvalid)
		})
	}

	_, err := s.Register(ctx, &RegisterRequest{Name: "A", Email: "a@b.co", Password: "longenough"})
	require.NoError(t, err)
	_, err = s.Register(ctx, &RegisterRequest{Name: "B", Email: "A@B.co", Password: "longenough"})
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestLookups(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	ana, err := s.Register(ctx, &RegisterRequest{Name: "Ana", Email: "ana@example.com", Password: "longenough"})
	require.NoError(t, err)
	bo, err := s.Register(ctx, &RegisterRequest{Name: "Bo", Email: "bo@example.com", Password: "longenough", Role: RoleWalker})
	require.NoError(t, err)

	got, err := s.Get(ctx, bo.ID)
	require.NoError(t, err)
	require.Equal(t, "Bo", got.Name)
	require.Equal(t, RoleWalker, got.Role)

	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	found, err := s.SearchUsers(ctx, "an")
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, ana.ID, found[0].ID)
	require.Empty(t, found[0].Password)

	names, err := s.Names(ctx, []string{ana.ID, bo.ID, "ghost"})
	require.NoError(t, err)
	require.Equal(t, map[string]string{ana.ID: "Ana", bo.ID: "Bo"}, names)
}
