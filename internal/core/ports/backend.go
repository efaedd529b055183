package ports

import (
	"context"

	"memberdash/internal/core/domain"
)

// IdentityStore is the login-credential half of the backend. Only the
// privileged client is expected to serve the lifecycle calls.
type IdentityStore interface {
	CreateUser(ctx context.Context, params domain.NewIdentity) (*domain.Identity, error)
	UpdateUserByID(ctx context.Context, id domain.MemberID, attrs domain.IdentityAttributes) error
	DeleteUser(ctx context.Context, id domain.MemberID) error
	SignInWithPassword(ctx context.Context, email, password string) (*domain.AuthTokens, error)
}

// MemberStore is the relational half of the backend: the members and
// permission tables.
type MemberStore interface {
	InsertMember(ctx context.Context, member *domain.Member) (*domain.Member, error)
	UpdateMember(ctx context.Context, id domain.MemberID, patch domain.MemberPatch) error
	DeleteMember(ctx context.Context, id domain.MemberID) error
	InsertPermission(ctx context.Context, permission *domain.Permission) (*domain.Permission, error)
	UpdatePermission(ctx context.Context, memberID domain.MemberID, patch domain.PermissionPatch) error
	DeletePermissions(ctx context.Context, memberID domain.MemberID) error
	ListPermissions(ctx context.Context, query domain.ListQuery) ([]*domain.MemberPermission, error)
}

type BackendClient interface {
	Identities() IdentityStore
	Members() MemberStore
}

// ClientFactory hands out the two client variants. Privileged bypasses
// row-level authorization; ForSession is bound to the caller's credentials.
type ClientFactory interface {
	Privileged() BackendClient
	ForSession(session *domain.Session) BackendClient
	HealthCheck(ctx context.Context) error
	Close() error
}

// InvalidationNotifier tells the presentation layer that a route's cached
// render is stale. It never fails the caller.
type InvalidationNotifier interface {
	Invalidate(ctx context.Context, path string)
}

// MemberLocker serializes provisioning steps for one member across callers.
type MemberLocker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

type Authorizer interface {
	Authorize(session *domain.Session, action string) error
}
