package supabase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"memberdash/internal/core/domain"
)

const authPrefix = "/auth/v1"

type gotrueUser struct {
	ID               string                  `json:"id"`
	Email            string                  `json:"email"`
	EmailConfirmedAt *time.Time              `json:"email_confirmed_at"`
	UserMetadata     domain.IdentityMetadata `json:"user_metadata"`
	CreatedAt        time.Time               `json:"created_at"`
}

func (u *gotrueUser) toDomain() *domain.Identity {
	return &domain.Identity{
		ID:             domain.MemberID(u.ID),
		Email:          u.Email,
		EmailConfirmed: u.EmailConfirmedAt != nil,
		Metadata:       u.UserMetadata,
		CreatedAt:      u.CreatedAt,
	}
}

type tokenResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    int         `json:"expires_in"`
	User         *gotrueUser `json:"user"`
}

// IdentityStore talks to the GoTrue admin API with the service role key.
// Password sign-in goes out with the anon key.
type IdentityStore struct {
	admin  *transport
	public *transport
}

func (s *IdentityStore) CreateUser(ctx context.Context, params domain.NewIdentity) (*domain.Identity, error) {
	body := map[string]interface{}{
		"email":         strings.TrimSpace(params.Email),
		"password":      params.Password,
		"email_confirm": params.EmailConfirmed,
		"user_metadata": params.Metadata,
	}

	var user gotrueUser
	err := s.admin.do(ctx, request{method: http.MethodPost, path: authPrefix + "/admin/users", body: body}, &user)
	if err != nil {
		if isDuplicateIdentity(err) {
			return nil, fmt.Errorf("identity %s: %w", params.Email, domain.ErrIdentityExists)
		}
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}
	return user.toDomain(), nil
}

func isDuplicateIdentity(err error) bool {
	if statusOf(err) != http.StatusUnprocessableEntity && statusOf(err) != http.StatusConflict {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "email_exists") || strings.Contains(msg, "already") || statusOf(err) == http.StatusConflict
}

func (s *IdentityStore) UpdateUserByID(ctx context.Context, id domain.MemberID, attrs domain.IdentityAttributes) error {
	body := map[string]interface{}{}
	if attrs.Email != nil {
		body["email"] = strings.TrimSpace(*attrs.Email)
	}
	if attrs.Password != nil {
		body["password"] = *attrs.Password
	}
	if attrs.Metadata != nil {
		body["user_metadata"] = attrs.Metadata
	}

	err := s.admin.do(ctx, request{method: http.MethodPut, path: userPath(id), body: body}, nil)
	switch {
	case err == nil:
		return nil
	case statusOf(err) == http.StatusNotFound:
		return fmt.Errorf("identity %s: %w", id, domain.ErrIdentityNotFound)
	case isDuplicateIdentity(err):
		return fmt.Errorf("identity %s: %w", id, domain.ErrIdentityExists)
	}
	return fmt.Errorf("failed to update identity %s: %w", id, err)
}

func (s *IdentityStore) DeleteUser(ctx context.Context, id domain.MemberID) error {
	err := s.admin.do(ctx, request{method: http.MethodDelete, path: userPath(id)}, nil)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return fmt.Errorf("identity %s: %w", id, domain.ErrIdentityNotFound)
		}
		return fmt.Errorf("failed to delete identity %s: %w", id, err)
	}
	return nil
}

func (s *IdentityStore) SignInWithPassword(ctx context.Context, email, password string) (*domain.AuthTokens, error) {
	var resp tokenResponse
	err := s.public.do(ctx, request{
		method: http.MethodPost,
		path:   authPrefix + "/token",
		query:  url.Values{"grant_type": {"password"}},
		body:   map[string]string{"email": strings.TrimSpace(email), "password": password},
	}, &resp)
	if err != nil {
		if status := statusOf(err); status == http.StatusBadRequest || status == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCredentials, err)
		}
		return nil, fmt.Errorf("sign in failed: %w", err)
	}

	tokens := &domain.AuthTokens{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    resp.ExpiresIn,
	}
	if resp.User != nil {
		tokens.User = resp.User.toDomain()
	}
	return tokens, nil
}

func userPath(id domain.MemberID) string {
	return authPrefix + "/admin/users/" + url.PathEscape(string(id))
}

// scopedIdentityStore is the identity side of a role-scoped client. The
// admin endpoints need the service role key, so only sign-in is served.
type scopedIdentityStore struct {
	store *IdentityStore
}

func (s scopedIdentityStore) CreateUser(context.Context, domain.NewIdentity) (*domain.Identity, error) {
	return nil, domain.ErrForbidden
}

func (s scopedIdentityStore) UpdateUserByID(context.Context, domain.MemberID, domain.IdentityAttributes) error {
	return domain.ErrForbidden
}

func (s scopedIdentityStore) DeleteUser(context.Context, domain.MemberID) error {
	return domain.ErrForbidden
}

func (s scopedIdentityStore) SignInWithPassword(ctx context.Context, email, password string) (*domain.AuthTokens, error) {
	return s.store.SignInWithPassword(ctx, email, password)
}
