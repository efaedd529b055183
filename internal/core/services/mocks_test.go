package services_test

import (
	"context"
	"sync"
	"time"

	"memberdash/internal/core/domain"
	"memberdash/internal/core/ports"

	"github.com/stretchr/testify/mock"
)

type MockIdentityStore struct {
	mock.Mock
}

func (m *MockIdentityStore) CreateUser(ctx context.Context, params domain.NewIdentity) (*domain.Identity, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Identity), args.Error(1)
}

func (m *MockIdentityStore) UpdateUserByID(ctx context.Context, id domain.MemberID, attrs domain.IdentityAttributes) error {
	args := m.Called(ctx, id, attrs)
	return args.Error(0)
}

func (m *MockIdentityStore) DeleteUser(ctx context.Context, id domain.MemberID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockIdentityStore) SignInWithPassword(ctx context.Context, email, password string) (*domain.AuthTokens, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AuthTokens), args.Error(1)
}

type MockMemberStore struct {
	mock.Mock
}

func (m *MockMemberStore) InsertMember(ctx context.Context, member *domain.Member) (*domain.Member, error) {
	args := m.Called(ctx, member)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Member), args.Error(1)
}

func (m *MockMemberStore) UpdateMember(ctx context.Context, id domain.MemberID, patch domain.MemberPatch) error {
	args := m.Called(ctx, id, patch)
	return args.Error(0)
}

func (m *MockMemberStore) DeleteMember(ctx context.Context, id domain.MemberID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockMemberStore) InsertPermission(ctx context.Context, permission *domain.Permission) (*domain.Permission, error) {
	args := m.Called(ctx, permission)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Permission), args.Error(1)
}

func (m *MockMemberStore) UpdatePermission(ctx context.Context, memberID domain.MemberID, patch domain.PermissionPatch) error {
	args := m.Called(ctx, memberID, patch)
	return args.Error(0)
}

func (m *MockMemberStore) DeletePermissions(ctx context.Context, memberID domain.MemberID) error {
	args := m.Called(ctx, memberID)
	return args.Error(0)
}

func (m *MockMemberStore) ListPermissions(ctx context.Context, query domain.ListQuery) ([]*domain.MemberPermission, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.MemberPermission), args.Error(1)
}

type stubClient struct {
	identities ports.IdentityStore
	members    ports.MemberStore
}

func (c *stubClient) Identities() ports.IdentityStore { return c.identities }
func (c *stubClient) Members() ports.MemberStore      { return c.members }

// stubFactory hands out separate mocks for the privileged and the
// role-scoped client so tests can tell which one a workflow used.
type stubFactory struct {
	privileged *stubClient
	scoped     *stubClient

	mu       sync.Mutex
	sessions []*domain.Session
}

func newStubFactory() (*stubFactory, *MockIdentityStore, *MockMemberStore, *MockMemberStore) {
	adminIdentities := &MockIdentityStore{}
	adminMembers := &MockMemberStore{}
	scopedMembers := &MockMemberStore{}
	return &stubFactory{
		privileged: &stubClient{identities: adminIdentities, members: adminMembers},
		scoped:     &stubClient{identities: &MockIdentityStore{}, members: scopedMembers},
	}, adminIdentities, adminMembers, scopedMembers
}

func (f *stubFactory) Privileged() ports.BackendClient { return f.privileged }

func (f *stubFactory) ForSession(session *domain.Session) ports.BackendClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, session)
	return f.scoped
}

func (f *stubFactory) HealthCheck(context.Context) error { return nil }
func (f *stubFactory) Close() error                      { return nil }

type recordingNotifier struct {
	mu    sync.Mutex
	paths []string
}

func (n *recordingNotifier) Invalidate(_ context.Context, path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, path)
}

func (n *recordingNotifier) Paths() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.paths...)
}

type failingLocker struct{ err error }

func (l failingLocker) Acquire(context.Context, string) (func(), error) { return nil, l.err }

type recordingLocker struct {
	mu       sync.Mutex
	keys     []string
	released int
}

func (l *recordingLocker) Acquire(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
	}, nil
}

type stepObservation struct {
	operation string
	step      string
	failed    bool
}

type recordingMetrics struct {
	mu    sync.Mutex
	steps []stepObservation
	ops   map[string]int
}

func (m *recordingMetrics) RecordStep(operation, step string, err error, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, stepObservation{operation: operation, step: step, failed: err != nil})
}

func (m *recordingMetrics) RecordOperation(operation string, _ error, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ops == nil {
		m.ops = make(map[string]int)
	}
	m.ops[operation]++
}
