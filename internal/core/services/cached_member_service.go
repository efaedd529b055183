package services

import (
	"context"
	"fmt"

	"memberdash/internal/core/domain"
	"memberdash/internal/core/ports"
	"memberdash/pkg/cache"
)

// ListingCache is the cache shared by CachedMemberService and whatever
// purges it on invalidation.
type ListingCache = cache.Cache[[]*domain.MemberPermission]

// CachedMemberService wraps MemberService with a listing cache. Keys live
// under the members route so a route invalidation purges them.
type CachedMemberService struct {
	baseService ports.MemberService
	cache       *ListingCache
	route       string
}

func NewCachedMemberService(baseService ports.MemberService, listingCache *ListingCache, route string) ports.MemberService {
	if route == "" {
		route = DefaultMembersRoute
	}
	return &CachedMemberService{
		baseService: baseService,
		cache:       listingCache,
		route:       route,
	}
}

// ListingCacheKey is per caller: row-level security makes the visible rows
// depend on who is asking.
func ListingCacheKey(route string, caller *domain.Session, filter domain.ListFilter) string {
	name := "*"
	if filter.Name != nil {
		name = "=" + *filter.Name
	}
	return fmt.Sprintf("%s|%s|%s|%s", route, callerID(caller), caller.EffectiveRole(), name)
}

func (s *CachedMemberService) List(ctx context.Context, caller *domain.Session, filter domain.ListFilter) ([]*domain.MemberPermission, error) {
	key := ListingCacheKey(s.route, caller, filter)
	return s.cache.GetOrLoad(ctx, key, func(ctx context.Context) ([]*domain.MemberPermission, error) {
		return s.baseService.List(ctx, caller, filter)
	})
}

func (s *CachedMemberService) Create(ctx context.Context, caller *domain.Session, input domain.CreateMemberInput) (*domain.Permission, error) {
	permission, err := s.baseService.Create(ctx, caller, input)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(s.route)
	return permission, nil
}

func (s *CachedMemberService) UpdateMember(ctx context.Context, caller *domain.Session, id domain.MemberID, patch domain.MemberPatch) error {
	if err := s.baseService.UpdateMember(ctx, caller, id, patch); err != nil {
		return err
	}
	s.cache.Invalidate(s.route)
	return nil
}

func (s *CachedMemberService) UpdatePermission(ctx context.Context, caller *domain.Session, id domain.MemberID, patch domain.PermissionPatch) error {
	if err := s.baseService.UpdatePermission(ctx, caller, id, patch); err != nil {
		return err
	}
	s.cache.Invalidate(s.route)
	return nil
}

// UpdateIdentity does not touch listed columns.
func (s *CachedMemberService) UpdateIdentity(ctx context.Context, caller *domain.Session, id domain.MemberID, attrs domain.IdentityAttributes) error {
	return s.baseService.UpdateIdentity(ctx, caller, id, attrs)
}

func (s *CachedMemberService) Delete(ctx context.Context, caller *domain.Session, id domain.MemberID) error {
	if err := s.baseService.Delete(ctx, caller, id); err != nil {
		return err
	}
	s.cache.Invalidate(s.route)
	return nil
}
