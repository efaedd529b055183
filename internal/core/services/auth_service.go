package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"memberdash/internal/core/domain"
	"memberdash/internal/core/ports"
	apperrors "memberdash/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mitchellh/mapstructure"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

type AuthService interface {
	GenerateToken(identity *domain.Identity) (string, time.Time, error)
	ValidateToken(tokenString string) (*Claims, error)
	// ReadSession never fails: a missing or bad token is an anonymous session.
	ReadSession(tokenString string) *domain.Session
	Login(ctx context.Context, email, password string) (*domain.AuthTokens, *domain.Session, error)
}

// Claims mirrors the access tokens the hosted auth server issues, so tokens
// from either backend verify the same way.
type Claims struct {
	Email        string                 `json:"email"`
	Role         string                 `json:"role,omitempty"`
	UserMetadata map[string]interface{} `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

type authService struct {
	jwtSecret      []byte
	accessTokenTTL time.Duration
	issuer         string
	clients        ports.ClientFactory // used for Login only, can be nil
}

func NewAuthService(
	jwtSecret string,
	accessTokenTTL time.Duration,
	issuer string,
	clients ports.ClientFactory,
) AuthService {
	return &authService{
		jwtSecret:      []byte(jwtSecret),
		accessTokenTTL: accessTokenTTL,
		issuer:         issuer,
		clients:        clients,
	}
}

func (s *authService) GenerateToken(identity *domain.Identity) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.accessTokenTTL)

	claims := &Claims{
		Email: identity.Email,
		Role:  "authenticated",
		UserMetadata: map[string]interface{}{
			"role":   string(identity.Metadata.Role),
			"status": string(identity.Metadata.Status),
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(identity.ID),
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.Subject != "" {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

func (s *authService) ReadSession(tokenString string) *domain.Session {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return domain.AnonymousSession()
	}

	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return domain.AnonymousSession()
	}
	return sessionFromClaims(claims, tokenString)
}

func sessionFromClaims(claims *Claims, tokenString string) *domain.Session {
	var meta domain.IdentityMetadata
	if claims.UserMetadata != nil {
		// unknown keys in user_metadata are fine
		_ = mapstructure.Decode(claims.UserMetadata, &meta)
	}

	role := meta.Role
	if !role.Valid() {
		// signed in, but no recognised dashboard role
		role = domain.RoleUser
	}

	session := &domain.Session{
		UserID:      domain.MemberID(claims.Subject),
		Email:       claims.Email,
		Role:        role,
		Status:      meta.Status,
		AccessToken: tokenString,
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session
}

// Login checks the password with the identity store. Stores that do not
// issue their own tokens get one minted here.
func (s *authService) Login(ctx context.Context, email, password string) (*domain.AuthTokens, *domain.Session, error) {
	if s.clients == nil {
		return nil, nil, apperrors.NewInternalError("login is not configured")
	}

	tokens, err := s.clients.Privileged().Identities().SignInWithPassword(ctx, strings.TrimSpace(email), password)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidCredentials), errors.Is(err, domain.ErrIdentityNotFound):
			return nil, nil, apperrors.NewUnauthenticatedError("invalid login credentials")
		case isUnavailable(err):
			return nil, nil, apperrors.NewBackendUnavailableError(err, "identity store unavailable")
		default:
			return nil, nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "login failed", http.StatusBadGateway)
		}
	}

	if tokens.AccessToken == "" {
		if tokens.User == nil {
			return nil, nil, apperrors.NewInternalError("identity store returned no user")
		}
		token, expiresAt, err := s.GenerateToken(tokens.User)
		if err != nil {
			return nil, nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to issue token", http.StatusInternalServerError)
		}
		tokens.AccessToken = token
		tokens.ExpiresIn = int(time.Until(expiresAt).Seconds())
	}

	session := s.ReadSession(tokens.AccessToken)
	if session.IsAnonymous() {
		return nil, nil, apperrors.NewUnauthenticatedError("issued token could not be verified")
	}
	return tokens, session, nil
}
