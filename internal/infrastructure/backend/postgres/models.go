package postgres

import (
	"time"

	"memberdash/internal/core/domain"
)

type IdentityRecord struct {
	ID               string                  `gorm:"primaryKey;size:64"`
	Email            string                  `gorm:"uniqueIndex;size:254;not null"`
	PasswordHash     string                  `gorm:"not null"`
	EmailConfirmedAt *time.Time              `gorm:"column:email_confirmed_at"`
	UserMetadata     domain.IdentityMetadata `gorm:"serializer:json;type:text"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (IdentityRecord) TableName() string {
	return "identities"
}

func (r *IdentityRecord) toDomain() *domain.Identity {
	return &domain.Identity{
		ID:             domain.MemberID(r.ID),
		Email:          r.Email,
		EmailConfirmed: r.EmailConfirmedAt != nil,
		Metadata:       r.UserMetadata,
		CreatedAt:      r.CreatedAt,
	}
}

// MemberRecord has no foreign key to identities: deleting the identity
// first must leave the row in place.
type MemberRecord struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Name      string    `gorm:"size:100;not null;index"`
	Email     string    `gorm:"size:254;not null"`
	CreatedAt time.Time `gorm:"index"`
}

func (MemberRecord) TableName() string {
	return "members"
}

func (r *MemberRecord) toDomain() *domain.Member {
	return &domain.Member{
		ID:        domain.MemberID(r.ID),
		Name:      r.Name,
		Email:     r.Email,
		CreatedAt: r.CreatedAt,
	}
}

type PermissionRecord struct {
	ID        int64        `gorm:"primaryKey;autoIncrement"`
	MemberID  string       `gorm:"size:64;not null;index"`
	Member    MemberRecord `gorm:"foreignKey:MemberID;references:ID;constraint:OnDelete:CASCADE"`
	Role      string       `gorm:"size:16;not null"`
	Status    string       `gorm:"size:16;not null"`
	CreatedAt time.Time    `gorm:"index"`
}

func (PermissionRecord) TableName() string {
	return "permission"
}

func (r *PermissionRecord) toDomain() *domain.Permission {
	return &domain.Permission{
		ID:        r.ID,
		MemberID:  domain.MemberID(r.MemberID),
		Role:      domain.Role(r.Role),
		Status:    domain.Status(r.Status),
		CreatedAt: r.CreatedAt,
	}
}

func (r *PermissionRecord) toJoined() *domain.MemberPermission {
	return &domain.MemberPermission{
		Permission: *r.toDomain(),
		Member:     *r.Member.toDomain(),
	}
}
