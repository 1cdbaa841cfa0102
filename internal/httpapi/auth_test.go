package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirledger/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func legacyStore() *userStoreStub {
	return &userStoreStub{users: map[string]domain.UserAccount{
		"admin":   {Username: "admin", Password: "admin123", Role: RoleAdmin, Active: true, CreatedAt: time.Now().UTC()},
		"retired": {Username: "retired", Password: "retired123", Role: RoleCashier, Active: false, CreatedAt: time.Now().UTC()},
	}}
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := legacyStore()
	manager := NewAuthManager("test-secret", time.Hour, "739154", store)

	_, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)

	users, err := store.ListUsers(context.Background())
	require.NoError(t, err)
	for _, u := range users {
		assert.True(t, strings.HasPrefix(u.Password, "$2"), "password for %s must be a bcrypt hash", u.Username)
	}
	// upgraded once at construction, then left alone
	assert.Equal(t, 2, store.updates)
}

func TestLoginRejectsBadPasswordAndInactiveAccount(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "739154", legacyStore())
	ctx := context.Background()

	_, err := manager.Login(ctx, domain.LoginRequest{Username: "admin", Password: "nope"})
	assert.ErrorIs(t, err, errInvalidCredentials)

	_, err = manager.Login(ctx, domain.LoginRequest{Username: "ghost", Password: "admin123"})
	assert.ErrorIs(t, err, errInvalidCredentials)

	_, err = manager.Login(ctx, domain.LoginRequest{Username: "retired", Password: "retired123"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inactive")
}

func TestTokenRoundTripCarriesRole(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "739154", legacyStore())

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: " ADMIN ", Password: "admin123"})
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, resp.Role)

	actor, err := manager.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{Username: "admin", Role: RoleAdmin}, actor)

	other := NewAuthManager("another-secret", time.Hour, "739154", nil)
	_, err = other.ParseToken(resp.AccessToken)
	assert.Error(t, err)
}

func TestParseTokenRejectsForeignIssuerAndExpiry(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "739154", nil)

	foreign, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, staffClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "admin",
			Issuer:    "someone-else",
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: RoleAdmin,
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = manager.ParseToken(foreign)
	assert.Error(t, err)

	expired, err := manager.sign("admin", RoleAdmin, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	_, err = manager.ParseToken(expired)
	assert.Error(t, err)
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "654321", &userStoreStub{users: map[string]domain.UserAccount{}})

	assert.NotEqual(t, "654321", manager.managerPIN)
	assert.True(t, manager.ValidateManagerPIN("654321"))
	assert.True(t, manager.ValidateManagerPIN(" 654321 "))
	assert.False(t, manager.ValidateManagerPIN("111111"))
	assert.False(t, manager.ValidateManagerPIN(""))
}

func TestEmptyManagerPINNeverValidates(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "", nil)
	assert.False(t, manager.ValidateManagerPIN(""))
	assert.False(t, manager.ValidateManagerPIN("000000"))
}
