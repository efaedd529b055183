package domain

import "time"

type IdentityMetadata struct {
	Role   Role   `json:"role" mapstructure:"role"`
	Status Status `json:"status" mapstructure:"status"`
}

type Identity struct {
	ID             MemberID         `json:"id"`
	Email          string           `json:"email"`
	EmailConfirmed bool             `json:"email_confirmed"`
	Metadata       IdentityMetadata `json:"user_metadata"`
	CreatedAt      time.Time        `json:"created_at"`
}

type NewIdentity struct {
	Email          string
	Password       string
	EmailConfirmed bool
	Metadata       IdentityMetadata
}

// IdentityAttributes is a partial update of an identity credential.
type IdentityAttributes struct {
	Email    *string           `json:"email,omitempty"`
	Password *string           `json:"password,omitempty"`
	Metadata *IdentityMetadata `json:"user_metadata,omitempty"`
}

func (a IdentityAttributes) IsEmpty() bool {
	return a.Email == nil && a.Password == nil && a.Metadata == nil
}

// Session is the operator behind a request. It is rebuilt from the bearer
// token on every request and never stored.
type Session struct {
	UserID      MemberID
	Email       string
	Role        Role
	Status      Status
	AccessToken string
	ExpiresAt   time.Time
}

func AnonymousSession() *Session {
	return &Session{Role: RoleAnonymous}
}

func (s *Session) IsAnonymous() bool {
	return s == nil || s.Role == RoleAnonymous || s.UserID == ""
}

func (s *Session) EffectiveRole() Role {
	if s.IsAnonymous() {
		return RoleAnonymous
	}
	return s.Role
}

// AuthTokens is what a successful password sign-in returns.
type AuthTokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresIn    int       `json:"expires_in"`
	User         *Identity `json:"user,omitempty"`
}
