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

const (
	restPrefix      = "/rest/v1"
	membersTable    = "members"
	permissionTable = "permission"

	// PostgREST code for a foreign key violation.
	codeForeignKeyViolation = "23503"
)

var returnRepresentation = map[string]string{"Prefer": "return=representation"}

type memberRow struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

type permissionRow struct {
	ID        int64      `json:"id,omitempty"`
	MemberID  string     `json:"member_id"`
	Role      string     `json:"role"`
	Status    string     `json:"status"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

func timeOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// MemberStore reads and writes the members and permission tables through
// PostgREST. Row filtering is the database's business: the transport's
// bearer token decides which rows are visible.
type MemberStore struct {
	rest *transport
}

func eq(value string) string {
	return "eq." + value
}

func tablePath(table string) string {
	return restPrefix + "/" + table
}

func (s *MemberStore) InsertMember(ctx context.Context, member *domain.Member) (*domain.Member, error) {
	row := memberRow{
		ID:        string(member.ID),
		Name:      strings.TrimSpace(member.Name),
		Email:     strings.ToLower(strings.TrimSpace(member.Email)),
		CreatedAt: timeOrNil(member.CreatedAt),
	}

	var rows []memberRow
	err := s.rest.do(ctx, request{
		method:  http.MethodPost,
		path:    tablePath(membersTable),
		body:    row,
		headers: returnRepresentation,
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to insert member %s: %w", member.ID, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert of member %s returned no row", member.ID)
	}

	return &domain.Member{
		ID:        domain.MemberID(rows[0].ID),
		Name:      rows[0].Name,
		Email:     rows[0].Email,
		CreatedAt: derefTime(rows[0].CreatedAt),
	}, nil
}

func (s *MemberStore) UpdateMember(ctx context.Context, id domain.MemberID, patch domain.MemberPatch) error {
	body := map[string]interface{}{}
	if patch.Name != nil {
		body["name"] = strings.TrimSpace(*patch.Name)
	}
	if patch.Email != nil {
		body["email"] = strings.ToLower(strings.TrimSpace(*patch.Email))
	}
	if len(body) == 0 {
		return domain.ErrEmptyPatch
	}
	return s.patch(ctx, membersTable, url.Values{"id": {eq(string(id))}}, id, body)
}

func (s *MemberStore) UpdatePermission(ctx context.Context, memberID domain.MemberID, patch domain.PermissionPatch) error {
	body := map[string]interface{}{}
	if patch.Role != nil {
		body["role"] = string(*patch.Role)
	}
	if patch.Status != nil {
		body["status"] = string(*patch.Status)
	}
	if len(body) == 0 {
		return domain.ErrEmptyPatch
	}
	return s.patch(ctx, permissionTable, url.Values{"member_id": {eq(string(memberID))}}, memberID, body)
}

// patch asks for the changed rows back; none means nothing matched or
// the caller may not see the row.
func (s *MemberStore) patch(ctx context.Context, table string, filter url.Values, id domain.MemberID, body map[string]interface{}) error {
	var rows []map[string]interface{}
	err := s.rest.do(ctx, request{
		method:  http.MethodPatch,
		path:    tablePath(table),
		query:   filter,
		body:    body,
		headers: returnRepresentation,
	}, &rows)
	if err != nil {
		return fmt.Errorf("failed to update %s %s: %w", table, id, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("member %s: %w", id, domain.ErrMemberNotFound)
	}
	return nil
}

func (s *MemberStore) DeleteMember(ctx context.Context, id domain.MemberID) error {
	err := s.rest.do(ctx, request{
		method: http.MethodDelete,
		path:   tablePath(membersTable),
		query:  url.Values{"id": {eq(string(id))}},
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to delete member %s: %w", id, err)
	}
	return nil
}

func (s *MemberStore) InsertPermission(ctx context.Context, permission *domain.Permission) (*domain.Permission, error) {
	row := permissionRow{
		MemberID:  string(permission.MemberID),
		Role:      string(permission.Role),
		Status:    string(permission.Status),
		CreatedAt: timeOrNil(permission.CreatedAt),
	}

	var rows []permissionRow
	err := s.rest.do(ctx, request{
		method:  http.MethodPost,
		path:    tablePath(permissionTable),
		body:    row,
		headers: returnRepresentation,
	}, &rows)
	if err != nil {
		if apiErr, ok := asAPIError(err); ok && apiErr.Code == codeForeignKeyViolation {
			return nil, fmt.Errorf("permission for %s: %w", permission.MemberID, domain.ErrMemberNotFound)
		}
		return nil, fmt.Errorf("failed to insert permission for %s: %w", permission.MemberID, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert of permission for %s returned no row", permission.MemberID)
	}

	return &domain.Permission{
		ID:        rows[0].ID,
		MemberID:  domain.MemberID(rows[0].MemberID),
		Role:      domain.Role(rows[0].Role),
		Status:    domain.Status(rows[0].Status),
		CreatedAt: derefTime(rows[0].CreatedAt),
	}, nil
}

func (s *MemberStore) DeletePermissions(ctx context.Context, memberID domain.MemberID) error {
	err := s.rest.do(ctx, request{
		method: http.MethodDelete,
		path:   tablePath(permissionTable),
		query:  url.Values{"member_id": {eq(string(memberID))}},
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to delete permissions of %s: %w", memberID, err)
	}
	return nil
}

// ListPermissions embeds the member of every permission row with an inner
// join, so permissions without a member are dropped.
func (s *MemberStore) ListPermissions(ctx context.Context, query domain.ListQuery) ([]*domain.MemberPermission, error) {
	params, err := listParams(query)
	if err != nil {
		return nil, err
	}

	var rows []*domain.MemberPermission
	err = s.rest.do(ctx, request{
		method: http.MethodGet,
		path:   tablePath(permissionTable),
		query:  params,
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	if rows == nil {
		rows = []*domain.MemberPermission{}
	}
	return rows, nil
}

func listParams(query domain.ListQuery) (url.Values, error) {
	if err := query.Order.Validate(); err != nil {
		return nil, err
	}

	direction := "asc"
	if query.Order.Descending {
		direction = "desc"
	}
	order := query.Order.Column + "." + direction
	if query.Order.Table == domain.SortMembers {
		order = membersTable + "(" + query.Order.Column + ")." + direction
	}

	params := url.Values{
		"select": {"*," + membersTable + "!inner(*)"},
		"order":  {order},
	}
	if query.Name != nil {
		params.Set(membersTable+".name", eq(*query.Name))
	}
	return params, nil
}
