package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"memberdash/internal/core/domain"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// IdentityStore keeps login credentials in the identities table with
// bcrypt password hashes. It does not issue tokens.
type IdentityStore struct {
	db   *gorm.DB
	cost int
}

func NewIdentityStore(db *gorm.DB, bcryptCost int) *IdentityStore {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &IdentityStore{db: db, cost: bcryptCost}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *IdentityStore) CreateUser(ctx context.Context, params domain.NewIdentity) (*domain.Identity, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	record := IdentityRecord{
		ID:           uuid.NewString(),
		Email:        normalizeEmail(params.Email),
		PasswordHash: string(hash),
		UserMetadata: params.Metadata,
	}
	if params.EmailConfirmed {
		now := time.Now().UTC()
		record.EmailConfirmedAt = &now
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("identity %s: %w", record.Email, domain.ErrIdentityExists)
		}
		return nil, fmt.Errorf("failed to create identity: %w", classify(err))
	}
	return record.toDomain(), nil
}

func (s *IdentityStore) UpdateUserByID(ctx context.Context, id domain.MemberID, attrs domain.IdentityAttributes) error {
	updates := map[string]interface{}{"updated_at": time.Now().UTC()}
	if attrs.Email != nil {
		updates["email"] = normalizeEmail(*attrs.Email)
	}
	if attrs.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*attrs.Password), s.cost)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		updates["password_hash"] = string(hash)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record IdentityRecord
		if err := tx.Where("id = ?", string(id)).First(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrIdentityNotFound
			}
			return classify(err)
		}
		if attrs.Metadata != nil {
			record.UserMetadata = *attrs.Metadata
			if err := tx.Model(&record).Select("UserMetadata").Updates(&record).Error; err != nil {
				return classify(err)
			}
		}
		return classify(tx.Model(&IdentityRecord{}).Where("id = ?", string(id)).Updates(updates).Error)
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("failed to update identity %s: %w", id, domain.ErrIdentityExists)
		}
		return fmt.Errorf("failed to update identity %s: %w", id, err)
	}
	return nil
}

func (s *IdentityStore) DeleteUser(ctx context.Context, id domain.MemberID) error {
	result := s.db.WithContext(ctx).Where("id = ?", string(id)).Delete(&IdentityRecord{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete identity %s: %w", id, classify(result.Error))
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("identity %s: %w", id, domain.ErrIdentityNotFound)
	}
	return nil
}

// SignInWithPassword returns the identity without a token; the caller mints one.
func (s *IdentityStore) SignInWithPassword(ctx context.Context, email, password string) (*domain.AuthTokens, error) {
	var record IdentityRecord
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load identity: %w", classify(err))
	}

	if err := bcrypt.CompareHashAndPassword([]byte(record.PasswordHash), []byte(password)); err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	if record.EmailConfirmedAt == nil {
		return nil, fmt.Errorf("email not confirmed: %w", domain.ErrInvalidCredentials)
	}

	return &domain.AuthTokens{User: record.toDomain()}, nil
}

// scopedIdentityStore is what a role-scoped client gets: sign-in only.
type scopedIdentityStore struct {
	store *IdentityStore
}

func (s scopedIdentityStore) CreateUser(context.Context, domain.NewIdentity) (*domain.Identity, error) {
	return nil, domain.ErrForbidden
}

func (s scopedIdentityStore) UpdateUserByID(context.Context, domain.MemberID, domain.IdentityAttributes) error {
	return domain.ErrForbidden
}

func (s scopedIdentityStore) DeleteUser(context.Context, domain.MemberID) error {
	return domain.ErrForbidden
}

func (s scopedIdentityStore) SignInWithPassword(ctx context.Context, email, password string) (*domain.AuthTokens, error) {
	return s.store.SignInWithPassword(ctx, email, password)
}
