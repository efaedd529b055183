package services_test

import (
	"context"
	"testing"
	"time"

	"memberdash/internal/core/domain"
	"memberdash/internal/core/services"
	apperrors "memberdash/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func adminIdentity() *domain.Identity {
	return &domain.Identity{
		ID:       "uuid-admin",
		Email:    "root@x.com",
		Metadata: domain.IdentityMetadata{Role: domain.RoleAdmin, Status: domain.StatusActive},
	}
}

func TestAuthService_TokenRoundTrip(t *testing.T) {
	auth := services.NewAuthService(testSecret, time.Hour, "memberdash", nil)

	token, expiresAt, err := auth.GenerateToken(adminIdentity())
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	session := auth.ReadSession(token)
	assert.Equal(t, domain.MemberID("uuid-admin"), session.UserID)
	assert.Equal(t, "root@x.com", session.Email)
	assert.Equal(t, domain.RoleAdmin, session.Role)
	assert.Equal(t, domain.StatusActive, session.Status)
	assert.Equal(t, token, session.AccessToken)
	assert.False(t, session.IsAnonymous())
}

func TestAuthService_ReadSessionFallsBackToAnonymous(t *testing.T) {
	auth := services.NewAuthService(testSecret, time.Hour, "memberdash", nil)
	other := services.NewAuthService("other-secret", time.Hour, "memberdash", nil)
	expired := services.NewAuthService(testSecret, -time.Minute, "memberdash", nil)

	foreign, _, err := other.GenerateToken(adminIdentity())
	require.NoError(t, err)
	stale, _, err := expired.GenerateToken(adminIdentity())
	require.NoError(t, err)

	for name, token := range map[string]string{
		"empty":        "",
		"garbage":      "not-a-jwt",
		"wrong secret": foreign,
		"expired":      stale,
	} {
		t.Run(name, func(t *testing.T) {
			session := auth.ReadSession(token)
			assert.True(t, session.IsAnonymous())
			assert.Equal(t, domain.RoleAnonymous, session.EffectiveRole())
		})
	}
}

func TestAuthService_ValidateTokenExpired(t *testing.T) {
	expired := services.NewAuthService(testSecret, -time.Minute, "memberdash", nil)
	token, _, err := expired.GenerateToken(adminIdentity())
	require.NoError(t, err)

	_, err = expired.ValidateToken(token)
	assert.ErrorIs(t, err, services.ErrExpiredToken)
}

func TestAuthService_HostedStyleTokenWithoutDashboardRole(t *testing.T) {
	claims := &services.Claims{
		Email:        "u@x.com",
		Role:         "authenticated",
		UserMetadata: map[string]interface{}{"status": "active", "avatar": "x.png"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "uuid-u",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	session := services.NewAuthService(testSecret, time.Hour, "", nil).ReadSession(token)

	assert.Equal(t, domain.RoleUser, session.Role)
	assert.Equal(t, domain.StatusActive, session.Status)
}

func TestAuthService_LoginMintsTokenWhenStoreDoesNot(t *testing.T) {
	factory, identities, _, _ := newStubFactory()
	auth := services.NewAuthService(testSecret, time.Hour, "memberdash", factory)

	identities.On("SignInWithPassword", mock.Anything, "root@x.com", "secret1").
		Return(&domain.AuthTokens{User: adminIdentity()}, nil).Once()

	tokens, session, err := auth.Login(context.Background(), " root@x.com ", "secret1")

	require.NoError(t, err)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.Greater(t, tokens.ExpiresIn, 0)
	assert.Equal(t, domain.RoleAdmin, session.Role)
}

func TestAuthService_LoginInvalidCredentials(t *testing.T) {
	factory, identities, _, _ := newStubFactory()
	auth := services.NewAuthService(testSecret, time.Hour, "memberdash", factory)

	identities.On("SignInWithPassword", mock.Anything, "root@x.com", "wrong").
		Return(nil, domain.ErrInvalidCredentials).Once()

	_, _, err := auth.Login(context.Background(), "root@x.com", "wrong")

	assert.Equal(t, apperrors.ErrCodeUnauthenticated, apperrors.CodeOf(err))
}

func TestAuthService_LoginBackendDown(t *testing.T) {
	factory, identities, _, _ := newStubFactory()
	auth := services.NewAuthService(testSecret, time.Hour, "memberdash", factory)

	identities.On("SignInWithPassword", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, domain.ErrBackendUnavailable).Once()

	_, _, err := auth.Login(context.Background(), "root@x.com", "secret1")

	assert.Equal(t, apperrors.ErrCodeBackendUnavailable, apperrors.CodeOf(err))
}
