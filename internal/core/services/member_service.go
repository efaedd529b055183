package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"memberdash/internal/core/domain"
	"memberdash/internal/core/ports"
	apperrors "memberdash/pkg/errors"
	"memberdash/pkg/tracing"

	"go.uber.org/zap"
)

const DefaultMembersRoute = "/dashboard/members"

type MemberServiceConfig struct {
	// CallTimeout bounds every individual backend call.
	CallTimeout       time.Duration
	PermissionCleanup domain.PermissionCleanup
	// MembersRoute is the route invalidated after a successful write.
	MembersRoute    string
	FilteredOrder   domain.SortOrder
	UnfilteredOrder domain.SortOrder
}

func DefaultMemberServiceConfig() MemberServiceConfig {
	return MemberServiceConfig{
		CallTimeout:       10 * time.Second,
		PermissionCleanup: domain.CleanupCascade,
		MembersRoute:      DefaultMembersRoute,
		FilteredOrder:     domain.SortOrder{Table: domain.SortPermission, Column: "created_at", Descending: true},
		UnfilteredOrder:   domain.SortOrder{Table: domain.SortMembers, Column: "created_at", Descending: false},
	}
}

type memberService struct {
	clients    ports.ClientFactory
	authorizer ports.Authorizer
	notifier   ports.InvalidationNotifier
	locker     ports.MemberLocker    // nil disables per-member locking
	metrics    ports.WorkflowMetrics // may be nil
	logger     *zap.SugaredLogger
	cfg        MemberServiceConfig
}

func NewMemberService(
	clients ports.ClientFactory,
	authorizer ports.Authorizer,
	notifier ports.InvalidationNotifier,
	locker ports.MemberLocker,
	metrics ports.WorkflowMetrics,
	logger *zap.SugaredLogger,
	cfg MemberServiceConfig,
) ports.MemberService {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultMemberServiceConfig().CallTimeout
	}
	if cfg.PermissionCleanup == "" {
		cfg.PermissionCleanup = domain.CleanupCascade
	}
	if cfg.MembersRoute == "" {
		cfg.MembersRoute = DefaultMembersRoute
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &memberService{
		clients:    clients,
		authorizer: authorizer,
		notifier:   notifier,
		locker:     locker,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
	}
}

// Create provisions identity, member row and permission row, in that order.
// A failure stops the workflow where it is; earlier steps are not undone.
func (s *memberService) Create(ctx context.Context, caller *domain.Session, input domain.CreateMemberInput) (_ *domain.Permission, err error) {
	ctx, finish := s.begin(ctx, "create", caller)
	defer func() { finish(err) }()

	if err := s.authorize(caller, domain.ActionCreateMember); err != nil {
		return nil, err
	}
	if !input.Role.Valid() || !input.Status.Valid() {
		return nil, apperrors.NewValidationError("role and status must be valid").
			WithContext("role", string(input.Role)).
			WithContext("status", string(input.Status))
	}

	release, err := s.lock(ctx, input.LockKey())
	if err != nil {
		return nil, err
	}
	defer release()

	admin := s.clients.Privileged()
	email := strings.TrimSpace(input.Email)

	var identity *domain.Identity
	err = s.step(ctx, "create", domain.StepIdentityCreate, "", func(ctx context.Context) error {
		var err error
		identity, err = admin.Identities().CreateUser(ctx, domain.NewIdentity{
			Email:          email,
			Password:       input.Password,
			EmailConfirmed: true,
			Metadata:       domain.IdentityMetadata{Role: input.Role, Status: input.Status},
		})
		return err
	})
	if err != nil {
		return nil, stepError(apperrors.ErrCodeIdentityCreationFailed, domain.StepIdentityCreate, "", "failed to create identity", err)
	}
	id := identity.ID

	err = s.step(ctx, "create", domain.StepMemberInsert, id, func(ctx context.Context) error {
		_, err := admin.Members().InsertMember(ctx, &domain.Member{ID: id, Name: strings.TrimSpace(input.Name), Email: email})
		return err
	})
	if err != nil {
		s.logger.Warnw("member partially provisioned", "member_id", id, "missing", "member,permission", "error", err)
		return nil, stepError(apperrors.ErrCodeMemberInsertFailed, domain.StepMemberInsert, id, "failed to insert member", err)
	}

	var permission *domain.Permission
	err = s.step(ctx, "create", domain.StepPermissionInsert, id, func(ctx context.Context) error {
		var err error
		permission, err = admin.Members().InsertPermission(ctx, &domain.Permission{MemberID: id, Role: input.Role, Status: input.Status})
		return err
	})
	if err != nil {
		s.logger.Warnw("member partially provisioned", "member_id", id, "missing", "permission", "error", err)
		return nil, stepError(apperrors.ErrCodePermissionInsertFailed, domain.StepPermissionInsert, id, "failed to insert permission", err)
	}

	s.logger.Infow("member created", "member_id", id, "role", input.Role, "status", input.Status, "caller", callerID(caller))
	s.invalidate(ctx)
	return permission, nil
}

// UpdateMember runs with the caller's own credentials; row-level security
// on the backend decides what the caller may touch.
func (s *memberService) UpdateMember(ctx context.Context, caller *domain.Session, id domain.MemberID, patch domain.MemberPatch) (err error) {
	ctx, finish := s.begin(ctx, "update_member", caller)
	defer func() { finish(err) }()

	if patch.IsEmpty() {
		return apperrors.NewValidationError(domain.ErrEmptyPatch.Error())
	}

	client := s.clients.ForSession(caller)
	err = s.step(ctx, "update_member", domain.StepMemberUpdate, id, func(ctx context.Context) error {
		return client.Members().UpdateMember(ctx, id, patch)
	})
	if err != nil {
		return updateError(domain.StepMemberUpdate, id, "failed to update member", err)
	}

	s.invalidate(ctx)
	return nil
}

func (s *memberService) UpdatePermission(ctx context.Context, caller *domain.Session, id domain.MemberID, patch domain.PermissionPatch) (err error) {
	ctx, finish := s.begin(ctx, "update_permission", caller)
	defer func() { finish(err) }()

	if patch.IsEmpty() {
		return apperrors.NewValidationError(domain.ErrEmptyPatch.Error())
	}

	client := s.clients.ForSession(caller)
	err = s.step(ctx, "update_permission", domain.StepPermissionUpdate, id, func(ctx context.Context) error {
		return client.Members().UpdatePermission(ctx, id, patch)
	})
	if err != nil {
		return updateError(domain.StepPermissionUpdate, id, "failed to update permission", err)
	}

	s.invalidate(ctx)
	return nil
}

// UpdateIdentity changes the login credential only. Member and permission
// rows are left as they are.
func (s *memberService) UpdateIdentity(ctx context.Context, caller *domain.Session, id domain.MemberID, attrs domain.IdentityAttributes) (err error) {
	ctx, finish := s.begin(ctx, "update_identity", caller)
	defer func() { finish(err) }()

	if err := s.authorize(caller, domain.ActionUpdateIdentity); err != nil {
		return err
	}
	if attrs.IsEmpty() {
		return apperrors.NewValidationError(domain.ErrEmptyPatch.Error())
	}

	release, err := s.lock(ctx, string(id))
	if err != nil {
		return err
	}
	defer release()

	admin := s.clients.Privileged()
	err = s.step(ctx, "update_identity", domain.StepIdentityUpdate, id, func(ctx context.Context) error {
		return admin.Identities().UpdateUserByID(ctx, id, attrs)
	})
	if err != nil {
		return updateError(domain.StepIdentityUpdate, id, "failed to update identity", err)
	}
	return nil
}

// Delete removes the identity, then the member row. Permission rows go with
// the member through the foreign key unless explicit cleanup is configured.
func (s *memberService) Delete(ctx context.Context, caller *domain.Session, id domain.MemberID) (err error) {
	ctx, finish := s.begin(ctx, "delete", caller)
	defer func() { finish(err) }()

	if err := s.authorize(caller, domain.ActionDeleteMember); err != nil {
		return err
	}

	release, err := s.lock(ctx, string(id))
	if err != nil {
		return err
	}
	defer release()

	admin := s.clients.Privileged()

	err = s.step(ctx, "delete", domain.StepIdentityDelete, id, func(ctx context.Context) error {
		return admin.Identities().DeleteUser(ctx, id)
	})
	if err != nil {
		return stepError(apperrors.ErrCodeIdentityDeletionFailed, domain.StepIdentityDelete, id, "failed to delete identity", err)
	}

	err = s.step(ctx, "delete", domain.StepMemberDelete, id, func(ctx context.Context) error {
		return admin.Members().DeleteMember(ctx, id)
	})
	if err != nil {
		s.logger.Warnw("member partially deleted", "member_id", id, "orphaned", "member,permission", "error", err)
		return stepError(apperrors.ErrCodeMemberDeletionFailed, domain.StepMemberDelete, id, "failed to delete member", err)
	}

	if s.cfg.PermissionCleanup == domain.CleanupExplicit {
		err = s.step(ctx, "delete", domain.StepPermissionDelete, id, func(ctx context.Context) error {
			return admin.Members().DeletePermissions(ctx, id)
		})
		if err != nil {
			s.logger.Warnw("member partially deleted", "member_id", id, "orphaned", "permission", "error", err)
			// The member row is gone, so the joined listing already changed.
			s.invalidate(ctx)
			return stepError(apperrors.ErrCodePermissionDeletionFailed, domain.StepPermissionDelete, id, "failed to delete permission", err)
		}
	}

	s.logger.Infow("member deleted", "member_id", id, "caller", callerID(caller))
	s.invalidate(ctx)
	return nil
}

// List joins permission rows with their members. Each call queries the
// backend again.
func (s *memberService) List(ctx context.Context, caller *domain.Session, filter domain.ListFilter) (_ []*domain.MemberPermission, err error) {
	ctx, finish := s.begin(ctx, "list", caller)
	defer func() { finish(err) }()

	query := BuildListQuery(filter, s.cfg.FilteredOrder, s.cfg.UnfilteredOrder)

	client := s.clients.ForSession(caller)
	var rows []*domain.MemberPermission
	err = s.step(ctx, "list", domain.StepList, "", func(ctx context.Context) error {
		var err error
		rows, err = client.Members().ListPermissions(ctx, query)
		return err
	})
	if err != nil {
		if isUnavailable(err) {
			return nil, apperrors.NewBackendUnavailableError(err, "failed to list members").WithContext("step", domain.StepList)
		}
		return nil, apperrors.NewStepError(apperrors.ErrCodeListFailed, err, "failed to list members").WithContext("step", domain.StepList)
	}
	return rows, nil
}

// BuildListQuery picks the ordering for a listing request. A name filter
// and an unfiltered listing sort differently.
func BuildListQuery(filter domain.ListFilter, filtered, unfiltered domain.SortOrder) domain.ListQuery {
	if filter.Name != nil {
		name := *filter.Name
		return domain.ListQuery{Name: &name, Order: filtered}
	}
	return domain.ListQuery{Order: unfiltered}
}

func (s *memberService) begin(ctx context.Context, operation string, caller *domain.Session) (context.Context, func(error)) {
	ctx, span := tracing.TraceWorkflow(ctx, operation, string(callerID(caller)), string(caller.EffectiveRole()))
	start := time.Now()
	return ctx, func(err error) {
		if err != nil {
			tracing.RecordError(ctx, err)
		}
		if s.metrics != nil {
			s.metrics.RecordOperation(operation, err, time.Since(start))
		}
		span.End()
	}
}

// step runs one backend call under its own deadline.
func (s *memberService) step(ctx context.Context, operation, step string, id domain.MemberID, fn func(ctx context.Context) error) error {
	ctx, span := tracing.TraceStep(ctx, step, string(id))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	if err == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		// the store returned after the deadline without noticing it
		err = fmt.Errorf("%s: %w", step, context.DeadlineExceeded)
	}
	if s.metrics != nil {
		s.metrics.RecordStep(operation, step, err, time.Since(start))
	}
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return err
}

func (s *memberService) authorize(caller *domain.Session, action string) error {
	if caller == nil {
		caller = domain.AnonymousSession()
	}
	if s.authorizer == nil {
		if caller.EffectiveRole() == domain.RoleAdmin {
			return nil
		}
		return apperrors.NewUnauthorizedError(fmt.Sprintf("%s requires the admin role", action))
	}
	if err := s.authorizer.Authorize(caller, action); err != nil {
		if !errors.Is(err, domain.ErrForbidden) {
			s.logger.Errorw("authorization check failed", "action", action, "error", err)
		}
		return apperrors.NewUnauthorizedError(fmt.Sprintf("%s requires the admin role", action)).
			WithContext("role", string(caller.EffectiveRole()))
	}
	return nil
}

func (s *memberService) lock(ctx context.Context, key string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	release, err := s.locker.Acquire(ctx, key)
	if err != nil {
		return nil, apperrors.NewBackendUnavailableError(err, "member is being modified by another request").
			WithContext("step", domain.StepLock)
	}
	return release, nil
}

func (s *memberService) invalidate(ctx context.Context) {
	if s.notifier == nil {
		return
	}
	s.notifier.Invalidate(context.WithoutCancel(ctx), s.cfg.MembersRoute)
}

func callerID(caller *domain.Session) domain.MemberID {
	if caller == nil {
		return ""
	}
	return caller.UserID
}

func isUnavailable(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrBackendUnavailable)
}

// stepError names the step that failed. Timeouts and transport failures are
// reported as BACKEND_UNAVAILABLE with the step code kept in context. A
// taken email keeps its step code but answers 409.
func stepError(code apperrors.ErrorCode, step string, id domain.MemberID, message string, err error) error {
	var appErr *apperrors.AppError
	if isUnavailable(err) {
		appErr = apperrors.NewBackendUnavailableError(err, message).WithContext("step_code", string(code))
	} else {
		appErr = apperrors.NewStepError(code, err, message)
		if errors.Is(err, domain.ErrIdentityExists) {
			appErr.HTTPStatus = http.StatusConflict
		}
	}
	appErr.WithContext("step", step)
	if id != "" {
		appErr.WithContext("member_id", string(id))
	}
	return appErr
}

func updateError(step string, id domain.MemberID, message string, err error) error {
	if errors.Is(err, domain.ErrMemberNotFound) || errors.Is(err, domain.ErrIdentityNotFound) {
		return apperrors.WrapError(err, apperrors.ErrCodeUpdateFailed, message, http.StatusNotFound).
			WithContext("step", step).
			WithContext("member_id", string(id))
	}
	return stepError(apperrors.ErrCodeUpdateFailed, step, id, message, err)
}
