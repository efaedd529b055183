package ports

import (
	"context"

	"memberdash/internal/core/domain"
)

type MemberService interface {
	Create(ctx context.Context, caller *domain.Session, input domain.CreateMemberInput) (*domain.Permission, error)
	UpdateMember(ctx context.Context, caller *domain.Session, id domain.MemberID, patch domain.MemberPatch) error
	UpdatePermission(ctx context.Context, caller *domain.Session, id domain.MemberID, patch domain.PermissionPatch) error
	UpdateIdentity(ctx context.Context, caller *domain.Session, id domain.MemberID, attrs domain.IdentityAttributes) error
	Delete(ctx context.Context, caller *domain.Session, id domain.MemberID) error
	List(ctx context.Context, caller *domain.Session, filter domain.ListFilter) ([]*domain.MemberPermission, error)
}
