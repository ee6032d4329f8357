package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"userhub/internal/domain"
	"userhub/internal/repository"
)

type userRecord struct {
	ID           int64        `gorm:"primaryKey;autoIncrement"`
	Username     string       `gorm:"uniqueIndex;size:191;not null"`
	PasswordHash string       `gorm:"size:255;not null"`
	Department   *string      `gorm:"size:255"`
	Roles        []roleRecord `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (userRecord) TableName() string { return "users" }

type roleRecord struct {
	UserID int64  `gorm:"primaryKey;autoIncrement:false"`
	Role   string `gorm:"primaryKey;size:64"`
}

func (roleRecord) TableName() string { return "user_roles" }

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) repository.UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Init(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&userRecord{}, &roleRecord{}); err != nil {
		return fmt.Errorf("migrate users: %w", err)
	}
	return nil
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) (int64, error) {
	rec := newUserRecord(user)
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	// roles are inserted through the association
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return 0, fmt.Errorf("insert user %q: %w", user.Username, repository.ErrUserExists)
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}

	user.ID = rec.ID
	user.Roles = rolesOf(rec.Roles)
	user.CreatedAt = rec.CreatedAt
	user.UpdatedAt = rec.UpdatedAt
	return rec.ID, nil
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.first(ctx, "username = ?", username)
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *UserRepository) first(ctx context.Context, query string, arg any) (*domain.User, error) {
	var rec userRecord
	err := r.db.WithContext(ctx).Preload("Roles").Where(query, arg).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrUserNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return rec.toDomain(), nil
}

// Save updates the password hash, department and roles of an existing user.
func (r *UserRepository) Save(ctx context.Context, user *domain.User) error {
	rec := newUserRecord(user)
	rec.UpdatedAt = time.Now().UTC()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&userRecord{}).
			Where("id = ?", rec.ID).
			Updates(map[string]any{
				"password_hash": rec.PasswordHash,
				"department":    rec.Department,
				"updated_at":    rec.UpdatedAt,
			})
		if res.Error != nil {
			return fmt.Errorf("update user: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("update user %d: %w", rec.ID, repository.ErrUserNotFound)
		}

		if err := tx.Where("user_id = ?", rec.ID).Delete(&roleRecord{}).Error; err != nil {
			return fmt.Errorf("clear user roles: %w", err)
		}
		if len(rec.Roles) > 0 {
			if err := tx.Create(&rec.Roles).Error; err != nil {
				return fmt.Errorf("insert user roles: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	user.Roles = rolesOf(rec.Roles)
	user.UpdatedAt = rec.UpdatedAt
	return nil
}

func newUserRecord(user *domain.User) userRecord {
	rec := userRecord{
		ID:           user.ID,
		Username:     user.Username,
		PasswordHash: user.PasswordHash,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	}
	if user.Department != "" {
		dept := user.Department
		rec.Department = &dept
	}
	for _, role := range domain.NormalizeRoles(user.Roles) {
		rec.Roles = append(rec.Roles, roleRecord{UserID: user.ID, Role: role})
	}
	return rec
}

func (rec userRecord) toDomain() *domain.User {
	user := &domain.User{
		ID:           rec.ID,
		Username:     rec.Username,
		PasswordHash: rec.PasswordHash,
		Roles:        rolesOf(rec.Roles),
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
	if rec.Department != nil {
		user.Department = *rec.Department
	}
	return user
}

func rolesOf(records []roleRecord) []string {
	roles := make([]string, 0, len(records))
	for _, r := range records {
		roles = append(roles, r.Role)
	}
	return domain.NormalizeRoles(roles)
}
