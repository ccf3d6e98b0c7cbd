package service

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/mediapp/medsched/internal/errs"
	"github.com/mediapp/medsched/internal/model"
	"github.com/mediapp/medsched/internal/repository"
)

type fakeUsers struct {
	byName map[string]*model.User

	createErr error
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.byName == nil {
		f.byName = map[string]*model.User{}
	}
	if _, exists := f.byName[u.Username]; exists {
		return errs.ErrAlreadyExists
	}
	cpy := *u
	f.byName[u.Username] = &cpy
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	for _, u := range f.byName {
		if u.ID == id {
			cpy := *u
			return &cpy, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	u, ok := f.byName[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cpy := *u
	return &cpy, nil
}

// fakeLimiter tracks limiter calls and optionally blocks.
type fakeLimiter struct {
	blocked bool

	allowCalls   int
	failureCalls int
	successCalls int
}

func (f *fakeLimiter) Allow(_ context.Context, _ string, _ []byte) (bool, time.Duration, error) {
	f.allowCalls++
	if f.blocked {
		return false, time.Minute, nil
	}
	return true, 0, nil
}

func (f *fakeLimiter) Success(_ context.Context, _ string, _ []byte) error {
	f.successCalls++
	return nil
}

func (f *fakeLimiter) Failure(_ context.Context, _ string, _ []byte) (bool, time.Duration, error) {
	f.failureCalls++
	return false, 0, nil
}

func TestAuth_RegisterAndLogin(t *testing.T) {
	t.Parallel()
	users := &fakeUsers{}
	lim := &fakeLimiter{}
	key := []byte("test-sign-key")
	s := NewAuthService(users, key, time.Hour, lim)
	ctx := context.Background()

	id, err := s.Register(ctx, "Alice", "alice@example.com", "alice", "s3cret")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	tokens, u, err := s.LoginWithIP(ctx, "alice", "s3cret", "127.0.0.1")
	require.NoError(t, err)
	require.Equal(t, id, u.ID.String())
	require.NotEmpty(t, tokens.AccessToken)
	require.Equal(t, 1, lim.successCalls)

	// the token carries the user id as subject
	tok, err := jwt.ParseWithClaims(tokens.AccessToken, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return key, nil
	})
	require.NoError(t, err)
	claims := tok.Claims.(*jwt.RegisteredClaims)
	require.Equal(t, id, claims.Subject)
}

func TestAuth_RegisterValidation(t *testing.T) {
	t.Parallel()
	s := NewAuthService(&fakeUsers{}, []byte("k"), time.Hour, &fakeLimiter{})
	ctx := context.Background()

	cases := [][4]string{
		{"", "a@b.c", "alice", "pw"},
		{"Alice", "", "alice", "pw"},
		{"Alice", "a@b.c", "", "pw"},
		{"Alice", "a@b.c", "alice", ""},
	}
	for _, c := range cases {
		_, err := s.Register(ctx, c[0], c[1], c[2], c[3])
		require.ErrorIs(t, err, errs.ErrValidation)
	}
}

func TestAuth_RegisterDuplicateUsername(t *testing.T) {
	t.Parallel()
	s := NewAuthService(&fakeUsers{}, []byte("k"), time.Hour, &fakeLimiter{})
	ctx := context.Background()

	_, err := s.Register(ctx, "Alice", "a@b.c", "alice", "pw")
	require.NoError(t, err)
	_, err = s.Register(ctx, "Other", "o@b.c", "alice", "pw2")
	require.ErrorIs(t, err, errs.ErrAlreadyExists)
}

func TestAuth_LoginWrongPassword(t *testing.T) {
	t.Parallel()
	users := &fakeUsers{}
	lim := &fakeLimiter{}
	s := NewAuthService(users, []byte("k"), time.Hour, lim)
	ctx := context.Background()

	_, err := s.Register(ctx, "Alice", "a@b.c", "alice", "right")
	require.NoError(t, err)

	_, _, err = s.LoginWithIP(ctx, "alice", "wrong", "127.0.0.1")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	require.Equal(t, 1, lim.failureCalls)
}

func TestAuth_LoginUnknownUserMasked(t *testing.T) {
	t.Parallel()
	s := NewAuthService(&fakeUsers{}, []byte("k"), time.Hour, &fakeLimiter{})

	_, _, err := s.LoginWithIP(context.Background(), "ghost", "pw", "127.0.0.1")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestAuth_LoginRateLimited(t *testing.T) {
	t.Parallel()
	lim := &fakeLimiter{blocked: true}
	s := NewAuthService(&fakeUsers{}, []byte("k"), time.Hour, lim)

	_, _, err := s.LoginWithIP(context.Background(), "alice", "pw", "127.0.0.1")
	require.ErrorIs(t, err, errs.ErrRateLimited)
	require.Equal(t, 0, lim.failureCalls)
}
