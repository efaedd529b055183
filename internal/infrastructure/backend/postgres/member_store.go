package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"memberdash/internal/core/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// runner executes fn against a handle. The privileged runner uses the pool
// directly; the scoped one wraps fn in a transaction bound to the caller.
type runner func(ctx context.Context, fn func(tx *gorm.DB) error) error

func directRunner(db *gorm.DB) runner {
	return func(ctx context.Context, fn func(tx *gorm.DB) error) error {
		return fn(db.WithContext(ctx))
	}
}

type jwtClaims struct {
	Sub          string                  `json:"sub"`
	Role         string                  `json:"role"`
	Email        string                  `json:"email,omitempty"`
	UserMetadata domain.IdentityMetadata `json:"user_metadata"`
}

// rlsRunner switches to the authenticated role and publishes the caller's
// claims for the duration of one transaction.
func rlsRunner(db *gorm.DB, role string, session *domain.Session) runner {
	claims := jwtClaims{Role: role}
	if !session.IsAnonymous() {
		claims.Sub = string(session.UserID)
		claims.Email = session.Email
		claims.UserMetadata = domain.IdentityMetadata{Role: session.Role, Status: session.Status}
	}

	return func(ctx context.Context, fn func(tx *gorm.DB) error) error {
		payload, err := json.Marshal(claims)
		if err != nil {
			return fmt.Errorf("failed to encode claims: %w", err)
		}
		return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec("SET LOCAL ROLE " + quoteIdent(role)).Error; err != nil {
				return err
			}
			if err := tx.Exec("SELECT set_config('request.jwt.claims', ?, true)", string(payload)).Error; err != nil {
				return err
			}
			return fn(tx)
		})
	}
}

type MemberStore struct {
	run runner
}

func (s *MemberStore) InsertMember(ctx context.Context, member *domain.Member) (*domain.Member, error) {
	record := MemberRecord{
		ID:        string(member.ID),
		Name:      strings.TrimSpace(member.Name),
		Email:     normalizeEmail(member.Email),
		CreatedAt: member.CreatedAt,
	}
	err := s.run(ctx, func(tx *gorm.DB) error {
		return tx.Create(&record).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert member %s: %w", member.ID, classify(err))
	}
	return record.toDomain(), nil
}

func (s *MemberStore) UpdateMember(ctx context.Context, id domain.MemberID, patch domain.MemberPatch) error {
	updates := map[string]interface{}{}
	if patch.Name != nil {
		updates["name"] = strings.TrimSpace(*patch.Name)
	}
	if patch.Email != nil {
		updates["email"] = normalizeEmail(*patch.Email)
	}
	if len(updates) == 0 {
		return domain.ErrEmptyPatch
	}

	return s.update(ctx, &MemberRecord{}, "id = ?", id, updates)
}

func (s *MemberStore) UpdatePermission(ctx context.Context, memberID domain.MemberID, patch domain.PermissionPatch) error {
	updates := map[string]interface{}{}
	if patch.Role != nil {
		updates["role"] = string(*patch.Role)
	}
	if patch.Status != nil {
		updates["status"] = string(*patch.Status)
	}
	if len(updates) == 0 {
		return domain.ErrEmptyPatch
	}

	return s.update(ctx, &PermissionRecord{}, "member_id = ?", memberID, updates)
}

// update reports ErrMemberNotFound when no row matched, which is also what
// a row hidden by a policy looks like.
func (s *MemberStore) update(ctx context.Context, model interface{}, where string, id domain.MemberID, updates map[string]interface{}) error {
	var affected int64
	err := s.run(ctx, func(tx *gorm.DB) error {
		result := tx.Model(model).Where(where, string(id)).Updates(updates)
		affected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", id, classify(err))
	}
	if affected == 0 {
		return fmt.Errorf("member %s: %w", id, domain.ErrMemberNotFound)
	}
	return nil
}

// DeleteMember removes the member row; permission rows go with it through
// the cascading foreign key. Deleting a missing row is not an error.
func (s *MemberStore) DeleteMember(ctx context.Context, id domain.MemberID) error {
	err := s.run(ctx, func(tx *gorm.DB) error {
		return tx.Where("id = ?", string(id)).Delete(&MemberRecord{}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete member %s: %w", id, classify(err))
	}
	return nil
}

func (s *MemberStore) InsertPermission(ctx context.Context, permission *domain.Permission) (*domain.Permission, error) {
	record := PermissionRecord{
		MemberID:  string(permission.MemberID),
		Role:      string(permission.Role),
		Status:    string(permission.Status),
		CreatedAt: permission.CreatedAt,
	}
	err := s.run(ctx, func(tx *gorm.DB) error {
		return tx.Omit(clause.Associations).Create(&record).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrForeignKeyViolated) {
			return nil, fmt.Errorf("permission for %s: %w", permission.MemberID, domain.ErrMemberNotFound)
		}
		return nil, fmt.Errorf("failed to insert permission for %s: %w", permission.MemberID, classify(err))
	}
	return record.toDomain(), nil
}

func (s *MemberStore) DeletePermissions(ctx context.Context, memberID domain.MemberID) error {
	err := s.run(ctx, func(tx *gorm.DB) error {
		return tx.Where("member_id = ?", string(memberID)).Delete(&PermissionRecord{}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete permissions of %s: %w", memberID, classify(err))
	}
	return nil
}

// ListPermissions joins every permission row with its member. A name
// filter is an exact match on members.name.
func (s *MemberStore) ListPermissions(ctx context.Context, query domain.ListQuery) ([]*domain.MemberPermission, error) {
	order, err := orderBy(query.Order)
	if err != nil {
		return nil, err
	}

	var records []PermissionRecord
	err = s.run(ctx, func(tx *gorm.DB) error {
		q := tx.Model(&PermissionRecord{}).InnerJoins("Member")
		if query.Name != nil {
			q = q.Where(clause.Eq{Column: clause.Column{Table: "Member", Name: "name"}, Value: *query.Name})
		}
		return q.Order(order).Find(&records).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", classify(err))
	}

	rows := make([]*domain.MemberPermission, 0, len(records))
	for i := range records {
		rows = append(rows, records[i].toJoined())
	}
	return rows, nil
}

func orderBy(order domain.SortOrder) (clause.OrderByColumn, error) {
	if err := order.Validate(); err != nil {
		return clause.OrderByColumn{}, err
	}

	table := clause.CurrentTable
	if order.Table == domain.SortMembers {
		table = "Member"
	}
	return clause.OrderByColumn{
		Column: clause.Column{Table: table, Name: order.Column},
		Desc:   order.Descending,
	}, nil
}
