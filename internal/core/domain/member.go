package domain

import (
	"fmt"
	"strings"
	"time"
)

type MemberID string

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleUser      Role = "user"
	RoleAnonymous Role = "anonymous"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

type Status string

const (
	StatusActive   Status = "active"
	StatusUnActive Status = "unActive"
)

func (s Status) Valid() bool {
	return s == StatusActive || s == StatusUnActive
}

type Member struct {
	ID        MemberID  `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type Permission struct {
	ID        int64     `json:"id"`
	MemberID  MemberID  `json:"member_id"`
	Role      Role      `json:"role"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// MemberPermission is one row of the members listing: a permission joined
// with the member it belongs to.
type MemberPermission struct {
	Permission
	Member Member `json:"members"`
}

// MemberPatch carries the member columns to change. Nil fields are left alone.
type MemberPatch struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
}

func (p MemberPatch) IsEmpty() bool {
	return p.Name == nil && p.Email == nil
}

type PermissionPatch struct {
	Role   *Role   `json:"role,omitempty"`
	Status *Status `json:"status,omitempty"`
}

func (p PermissionPatch) IsEmpty() bool {
	return p.Role == nil && p.Status == nil
}

type CreateMemberInput struct {
	Email    string
	Password string
	Name     string
	Role     Role
	Status   Status
}

// LockKey is the per-member lock key used while the member id is still unknown.
func (in CreateMemberInput) LockKey() string {
	return "email:" + strings.ToLower(strings.TrimSpace(in.Email))
}

type ListFilter struct {
	Name *string
}

type SortTable string

const (
	SortPermission SortTable = "permission"
	SortMembers    SortTable = "members"
)

type SortOrder struct {
	Table      SortTable `yaml:"table"`
	Column     string    `yaml:"column"`
	Descending bool      `yaml:"descending"`
}

// sortableColumns lists the columns a listing may be ordered by.
var sortableColumns = map[SortTable]map[string]bool{
	SortMembers:    {"id": true, "name": true, "email": true, "created_at": true},
	SortPermission: {"id": true, "member_id": true, "role": true, "status": true, "created_at": true},
}

func (o SortOrder) Validate() error {
	columns, ok := sortableColumns[o.Table]
	if !ok || !columns[o.Column] {
		return fmt.Errorf("%s.%s: %w", o.Table, o.Column, ErrUnsupportedSortOrder)
	}
	return nil
}

// ListQuery is what the listing builder hands to a store.
type ListQuery struct {
	Name  *string
	Order SortOrder
}
