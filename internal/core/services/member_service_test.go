package services_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"memberdash/internal/core/domain"
	"memberdash/internal/core/ports"
	"memberdash/internal/core/services"
	apperrors "memberdash/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	adminSession = &domain.Session{UserID: "admin-1", Email: "root@x.com", Role: domain.RoleAdmin, AccessToken: "admin-token"}
	userSession  = &domain.Session{UserID: "user-1", Email: "u@x.com", Role: domain.RoleUser, AccessToken: "user-token"}

	adminOnly = ports.AuthorizerFunc(func(s *domain.Session, _ string) error {
		if s.EffectiveRole() != domain.RoleAdmin {
			return domain.ErrForbidden
		}
		return nil
	})

	errBackend = errors.New("duplicate key value violates unique constraint")
)

type fixture struct {
	factory       *stubFactory
	identities    *MockIdentityStore
	adminMembers  *MockMemberStore
	scopedMembers *MockMemberStore
	notifier      *recordingNotifier
	metrics       *recordingMetrics
}

func newFixture() *fixture {
	factory, identities, adminMembers, scopedMembers := newStubFactory()
	return &fixture{
		factory:       factory,
		identities:    identities,
		adminMembers:  adminMembers,
		scopedMembers: scopedMembers,
		notifier:      &recordingNotifier{},
		metrics:       &recordingMetrics{},
	}
}

func (f *fixture) service(cfg services.MemberServiceConfig, locker ports.MemberLocker) ports.MemberService {
	return services.NewMemberService(f.factory, adminOnly, f.notifier, locker, f.metrics, nil, cfg)
}

func (f *fixture) assertNoBackendCalls(t *testing.T) {
	t.Helper()
	assert.Empty(t, f.identities.Calls)
	assert.Empty(t, f.adminMembers.Calls)
	assert.Empty(t, f.scopedMembers.Calls)
}

func validInput() domain.CreateMemberInput {
	return domain.CreateMemberInput{
		Email:    "a@x.com",
		Password: "secret1",
		Name:     "Al",
		Role:     domain.RoleUser,
		Status:   domain.StatusActive,
	}
}

func TestMemberService_NonAdminIsRejectedWithoutSideEffects(t *testing.T) {
	callers := map[string]*domain.Session{
		"user":      userSession,
		"anonymous": domain.AnonymousSession(),
		"nil":       nil,
	}

	for name, caller := range callers {
		t.Run(name, func(t *testing.T) {
			f := newFixture()
			svc := f.service(services.DefaultMemberServiceConfig(), nil)
			ctx := context.Background()

			_, err := svc.Create(ctx, caller, validInput())
			assert.Equal(t, apperrors.ErrCodeUnauthorized, apperrors.CodeOf(err), "create: %v", err)

			err = svc.Delete(ctx, caller, "m-1")
			assert.Equal(t, apperrors.ErrCodeUnauthorized, apperrors.CodeOf(err), "delete: %v", err)

			pw := "newsecret"
			err = svc.UpdateIdentity(ctx, caller, "m-1", domain.IdentityAttributes{Password: &pw})
			assert.Equal(t, apperrors.ErrCodeUnauthorized, apperrors.CodeOf(err), "update identity: %v", err)

			f.assertNoBackendCalls(t)
			assert.Empty(t, f.notifier.Paths())
		})
	}
}

func TestMemberService_CreateSuccess(t *testing.T) {
	f := newFixture()
	svc := f.service(services.DefaultMemberServiceConfig(), nil)
	ctx := context.Background()

	f.identities.On("CreateUser", mock.Anything, domain.NewIdentity{
		Email:          "a@x.com",
		Password:       "secret1",
		EmailConfirmed: true,
		Metadata:       domain.IdentityMetadata{Role: domain.RoleUser, Status: domain.StatusActive},
	}).Return(&domain.Identity{ID: "uuid-1", Email: "a@x.com"}, nil).Once()

	f.adminMembers.On("InsertMember", mock.Anything, &domain.Member{ID: "uuid-1", Name: "Al", Email: "a@x.com"}).
		Return(&domain.Member{ID: "uuid-1", Name: "Al", Email: "a@x.com"}, nil).Once()

	f.adminMembers.On("InsertPermission", mock.Anything, &domain.Permission{MemberID: "uuid-1", Role: domain.RoleUser, Status: domain.StatusActive}).
		Return(&domain.Permission{ID: 7, MemberID: "uuid-1", Role: domain.RoleUser, Status: domain.StatusActive, CreatedAt: time.Now()}, nil).Once()

	permission, err := svc.Create(ctx, adminSession, validInput())

	require.NoError(t, err)
	assert.Equal(t, domain.MemberID("uuid-1"), permission.MemberID)
	assert.Equal(t, domain.RoleUser, permission.Role)
	assert.Equal(t, domain.StatusActive, permission.Status)
	assert.Equal(t, []string{"/dashboard/members"}, f.notifier.Paths())

	f.identities.AssertExpectations(t)
	f.adminMembers.AssertExpectations(t)
	assert.Empty(t, f.scopedMembers.Calls, "provisioning must use the privileged client")

	require.Len(t, f.metrics.steps, 3)
	assert.Equal(t, domain.StepIdentityCreate, f.metrics.steps[0].step)
	assert.Equal(t, domain.StepMemberInsert, f.metrics.steps[1].step)
	assert.Equal(t, domain.StepPermissionInsert, f.metrics.steps[2].step)
}

func TestMemberService_CreateIdentityFailureWritesNoRows(t *testing.T) {
	f := newFixture()
	svc := f.service(services.DefaultMemberServiceConfig(), nil)

	f.identities.On("CreateUser", mock.Anything, mock.Anything).
		Return(nil, domain.ErrIdentityExists).Once()

	_, err := svc.Create(context.Background(), adminSession, validInput())

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeIdentityCreationFailed, apperrors.CodeOf(err))
	assert.Equal(t, http.StatusConflict, apperrors.GetAppError(err).HTTPStatus)
	assert.ErrorIs(t, err, domain.ErrIdentityExists)
	f.adminMembers.AssertNotCalled(t, "InsertMember", mock.Anything, mock.Anything)
	f.adminMembers.AssertNotCalled(t, "InsertPermission", mock.Anything, mock.Anything)
	assert.Empty(t, f.notifier.Paths())
}

func TestMemberService_CreateMemberInsertFailureLeavesIdentity(t *testing.T) {
	f := newFixture()
	svc := f.service(services.DefaultMemberServiceConfig(), nil)

	f.identities.On("CreateUser", mock.Anything, mock.Anything).
		Return(&domain.Identity{ID: "uuid-2"}, nil).Once()
	f.adminMembers.On("InsertMember", mock.Anything, mock.Anything).
		Return(nil, errBackend).Once()

	_, err := svc.Create(context.Background(), adminSession, validInput())

	appErr := apperrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.ErrCodeMemberInsertFailed, appErr.Code)
	assert.Equal(t, "uuid-2", appErr.Context["member_id"])
	assert.Equal(t, domain.StepMemberInsert, appErr.Context["step"])

	// the identity was created and nothing removed it
	f.identities.AssertNumberOfCalls(t, "CreateUser", 1)
	f.identities.AssertNotCalled(t, "DeleteUser", mock.Anything, mock.Anything)
	// and no permission row was attempted
	f.adminMembers.AssertNotCalled(t, "InsertPermission", mock.Anything, mock.Anything)
	assert.Empty(t, f.notifier.Paths())
}

func TestMemberService_CreatePermissionInsertFailure(t *testing.T) {
	f := newFixture()
	svc := f.service(services.DefaultMemberServiceConfig(), nil)

	f.identities.On("CreateUser", mock.Anything, mock.Anything).Return(&domain.Identity{ID: "uuid-3"}, nil).Once()
	f.adminMembers.On("InsertMember", mock.Anything, mock.Anything).Return(&domain.Member{ID: "uuid-3"}, nil).Once()
	f.adminMembers.On("InsertPermission", mock.Anything, mock.Anything).Return(nil, errBackend).Once()

	_, err := svc.Create(context.Background(), adminSession, validInput())

	assert.Equal(t, apperrors.ErrCodePermissionInsertFailed, apperrors.CodeOf(err))
	f.adminMembers.AssertNotCalled(t, "DeleteMember", mock.Anything, mock.Anything)
	assert.Empty(t, f.notifier.Paths())
}

func TestMemberService_CreateTimeoutIsBackendUnavailable(t *testing.T) {
	f := newFixture()
	cfg := services.DefaultMemberServiceConfig()
	cfg.CallTimeout = 20 * time.Millisecond
	svc := f.service(cfg, nil)

	f.identities.On("CreateUser", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded).Once()

	_, err := svc.Create(context.Background(), adminSession, validInput())

	appErr := apperrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.ErrCodeBackendUnavailable, appErr.Code)
	assert.Equal(t, domain.StepIdentityCreate, appErr.Context["step"])
	assert.Equal(t, string(apperrors.ErrCodeIdentityCreationFailed), appErr.Context["step_code"])
	f.adminMembers.AssertNotCalled(t, "InsertMember", mock.Anything, mock.Anything)
}

func TestMemberService_CreateRejectsInvalidEnums(t *testing.T) {
	f := newFixture()
	svc := f.service(services.DefaultMemberServiceConfig(), nil)

	input := validInput()
	input.Role = domain.RoleAnonymous

	_, err := svc.Create(context.Background(), adminSession, input)

	assert.Equal(t, apperrors.ErrCodeValidationFailed, apperrors.CodeOf(err))
	f.assertNoBackendCalls(t)
}

func TestMemberService_CreateLocksOnNormalizedEmail(t *testing.T) {
	f := newFixture()
	locker := &recordingLocker{}
	svc := f.service(services.DefaultMemberServiceConfig(), locker)

	f.identities.On("CreateUser", mock.Anything, mock.Anything).Return(nil, errBackend).Once()

	input := validInput()
	input.Email = "  A@X.com "
	_, _ = svc.Create(context.Background(), adminSession, input)

	assert.Equal(t, []string{"email:a@x.com"}, locker.keys)
	assert.Equal(t, 1, locker.released)
}

func TestMemberService_LockFailureIsBackendUnavailable(t *testing.T) {
	f := newFixture()
	svc := f.service(services.DefaultMemberServiceConfig(), failingLocker{err: domain.ErrLockNotAcquired})

	err := svc.Delete(context.Background(), adminSession, "m-1")

	assert.Equal(t, apperrors.ErrCodeBackendUnavailable, apperrors.CodeOf(err))
	assert.ErrorIs(t, err, domain.ErrLockNotAcquired)
	f.assertNoBackendCalls(t)
}

func TestMemberService_DeleteSuccessCascade(t *testing.T) {
	f := newFixture()
	svc := f.service(services.DefaultMemberServiceConfig(), nil)

	f.identities.On("DeleteUser", mock.Anything, domain.MemberID("m-1")).Return(nil).Once()
	f.adminMembers.On("DeleteMember", mock.Anything, domain.MemberID("m-1")).Return(nil).Once()

	err := svc.Delete(context.Background(), adminSession, "m-1")

	require.NoError(t, err)
	f.adminMembers.AssertNotCalled(t, "DeletePermissions", mock.Anything, mock.Anything)
	assert.Equal(t, []string{"/dashboard/members"}, f.notifier.Paths())
}

func TestMemberService_DeleteExplicitPermissionCleanup(t *testing.T) {
	f := newFixture()
	cfg := services.DefaultMemberServiceConfig()
	cfg.PermissionCleanup = domain.CleanupExplicit
	svc := f.service(cfg, nil)

	f.identities.On("DeleteUser", mock.Anything, domain.MemberID("m-1")).Return(nil).Once()
	f.adminMembers.On("DeleteMember", mock.Anything, domain.MemberID("m-1")).Return(nil).Once()
	f.adminMembers.On("DeletePermissions", mock.Anything, domain.MemberID("m-1")).Return(errBackend).Once()

	err := svc.Delete(context.Background(), adminSession, "m-1")

	assert.Equal(t, apperrors.ErrCodePermissionDeletionFailed, apperrors.CodeOf(err))
	// the member row is already gone, so the listing is refreshed anyway
	assert.Equal(t, []string{services.DefaultMembersRoute}, f.notifier.Paths())
}

func TestMemberService_DeleteIdentityFailureRemovesNothing(t *testing.T) {
	f := newFixture()
	svc := f.service(services.DefaultMemberServiceConfig(), nil)

	f.identities.On("DeleteUser", mock.Anything, domain.MemberID("m-1")).Return(domain.ErrIdentityNotFound).Once()

	err := svc.Delete(context.Background(), adminSession, "m-1")

	assert.Equal(t, apperrors.ErrCodeIdentityDeletionFailed, apperrors.CodeOf(err))
	f.adminMembers.AssertNotCalled(t, "DeleteMember", mock.Anything, mock.Anything)
}

func TestMemberService_DeleteMemberFailureOrphansRow(t *testing.T) {
	f := newFixture()
	svc := f.service(services.DefaultMemberServiceConfig(), nil)

	f.identities.On("DeleteUser", mock.Anything, domain.MemberID("m-1")).Return(nil).Once()
	f.adminMembers.On("DeleteMember", mock.Anything, domain.MemberID("m-1")).Return(errBackend).Once()

	err := svc.Delete(context.Background(), adminSession, "m-1")

	assert.Equal(t, apperrors.ErrCodeMemberDeletionFailed, apperrors.CodeOf(err))
	// identity gone, member row still there: the delete was attempted once and failed
	f.identities.AssertCalled(t, "DeleteUser", mock.Anything, domain.MemberID("m-1"))
	f.adminMembers.AssertNumberOfCalls(t, "DeleteMember", 1)
	assert.Empty(t, f.notifier.Paths())
}

func TestMemberService_UpdateMemberUsesRoleScopedClient(t *testing.T) {
	f := newFixture()
	svc := f.service(services.DefaultMemberServiceConfig(), nil)

	name := "Bo"
	patch := domain.MemberPatch{Name: &name}
	f.scopedMembers.On("UpdateMember", mock.Anything, domain.MemberID("m-1"), patch).Return(nil).Once()

	err := svc.UpdateMember(context.Background(), userSession, "m-1", patch)

	require.NoError(t, err)
	assert.Empty(t, f.adminMembers.Calls)
	require.Len(t, f.factory.sessions, 1)
	assert.Same(t, userSession, f.factory.sessions[0])
	assert.Equal(t, []string{"/dashboard/members"}, f.notifier.Paths())
}

func TestMemberService_UpdateMemberFailure(t *testing.T) {
	f := newFixture()
	svc := f.service(services.DefaultMemberServiceConfig(), nil)

	name := "Bo"
	f.scopedMembers.On("UpdateMember", mock.Anything, mock.Anything, mock.Anything).Return(errBackend).Once()

	err := svc.UpdateMember(context.Background(), userSession, "m-1", domain.MemberPatch{Name: &name})

	assert.Equal(t, apperrors.ErrCodeUpdateFailed, apperrors.CodeOf(err))
	assert.Empty(t, f.notifier.Paths())
}

func TestMemberService_UpdateMemberNotFoundKeepsCode(t *testing.T) {
	f := newFixture()
	svc := f.service(services.DefaultMemberServiceConfig(), nil)

	name := "Bo"
	f.scopedMembers.On("UpdateMember", mock.Anything, mock.Anything, mock.Anything).Return(domain.ErrMemberNotFound).Once()

	err := svc.UpdateMember(context.Background(), userSession, "m-1", domain.MemberPatch{Name: &name})

	appErr := apperrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.ErrCodeUpdateFailed, appErr.Code)
	assert.Equal(t, 404, appErr.HTTPStatus)
}

func TestMemberService_EmptyPatchIsValidationError(t *testing.T) {
	f := newFixture()
	svc := f.service(services.DefaultMemberServiceConfig(), nil)

	err := svc.UpdateMember(context.Background(), userSession, "m-1", domain.MemberPatch{})
	assert.Equal(t, apperrors.ErrCodeValidationFailed, apperrors.CodeOf(err))

	err = svc.UpdatePermission(context.Background(), userSession, "m-1", domain.PermissionPatch{})
	assert.Equal(t, apperrors.ErrCodeValidationFailed, apperrors.CodeOf(err))

	f.assertNoBackendCalls(t)
}

func TestMemberService_UpdatePermission(t *testing.T) {
	f := newFixture()
	svc := f.service(services.DefaultMemberServiceConfig(), nil)

	status := domain.StatusUnActive
	patch := domain.PermissionPatch{Status: &status}
	f.scopedMembers.On("UpdatePermission", mock.Anything, domain.MemberID("m-1"), patch).Return(nil).Once()

	require.NoError(t, svc.UpdatePermission(context.Background(), adminSession, "m-1", patch))
	f.scopedMembers.AssertExpectations(t)
	assert.Len(t, f.notifier.Paths(), 1)
}

func TestMemberService_UpdateIdentityDoesNotTouchRows(t *testing.T) {
	f := newFixture()
	svc := f.service(services.DefaultMemberServiceConfig(), nil)

	meta := domain.IdentityMetadata{Role: domain.RoleAdmin, Status: domain.StatusActive}
	attrs := domain.IdentityAttributes{Metadata: &meta}
	f.identities.On("UpdateUserByID", mock.Anything, domain.MemberID("m-1"), attrs).Return(nil).Once()

	require.NoError(t, svc.UpdateIdentity(context.Background(), adminSession, "m-1", attrs))

	f.identities.AssertExpectations(t)
	assert.Empty(t, f.adminMembers.Calls)
	assert.Empty(t, f.scopedMembers.Calls)
	assert.Empty(t, f.notifier.Paths())
}

func TestMemberService_ListOrdering(t *testing.T) {
	f := newFixture()
	svc := f.service(services.DefaultMemberServiceConfig(), nil)
	ctx := context.Background()

	rows := []*domain.MemberPermission{{Permission: domain.Permission{ID: 1, MemberID: "m-1"}}}

	f.scopedMembers.On("ListPermissions", mock.Anything, domain.ListQuery{
		Order: domain.SortOrder{Table: domain.SortMembers, Column: "created_at", Descending: false},
	}).Return(rows, nil).Once()

	name := "Alice"
	f.scopedMembers.On("ListPermissions", mock.Anything, mock.MatchedBy(func(q domain.ListQuery) bool {
		return q.Name != nil && *q.Name == "Alice" &&
			q.Order == domain.SortOrder{Table: domain.SortPermission, Column: "created_at", Descending: true}
	})).Return([]*domain.MemberPermission{}, nil).Once()

	got, err := svc.List(ctx, userSession, domain.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, rows, got)

	got, err = svc.List(ctx, userSession, domain.ListFilter{Name: &name})
	require.NoError(t, err)
	assert.Empty(t, got)

	f.scopedMembers.AssertExpectations(t)
	assert.Empty(t, f.adminMembers.Calls, "listing must use the role-scoped client")
}

func TestMemberService_ListFailure(t *testing.T) {
	f := newFixture()
	svc := f.service(services.DefaultMemberServiceConfig(), nil)

	f.scopedMembers.On("ListPermissions", mock.Anything, mock.Anything).Return(nil, errBackend).Once()
	_, err := svc.List(context.Background(), userSession, domain.ListFilter{})
	assert.Equal(t, apperrors.ErrCodeListFailed, apperrors.CodeOf(err))

	f.scopedMembers.On("ListPermissions", mock.Anything, mock.Anything).Return(nil, domain.ErrBackendUnavailable).Once()
	_, err = svc.List(context.Background(), userSession, domain.ListFilter{})
	assert.Equal(t, apperrors.ErrCodeBackendUnavailable, apperrors.CodeOf(err))
}

func TestBuildListQuery_CopiesName(t *testing.T) {
	name := "Alice"
	filtered := domain.SortOrder{Table: domain.SortPermission, Column: "created_at", Descending: true}
	unfiltered := domain.SortOrder{Table: domain.SortMembers, Column: "created_at"}

	q := services.BuildListQuery(domain.ListFilter{Name: &name}, filtered, unfiltered)
	name = "Bob"

	require.NotNil(t, q.Name)
	assert.Equal(t, "Alice", *q.Name)
	assert.Equal(t, filtered, q.Order)

	q = services.BuildListQuery(domain.ListFilter{}, filtered, unfiltered)
	assert.Nil(t, q.Name)
	assert.Equal(t, unfiltered, q.Order)
}
