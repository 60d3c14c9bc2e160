package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	domain "user-directory-service/internal/domain/user"
	"user-directory-service/internal/usecase/user"
	pkgerrors "user-directory-service/pkg/errors"
	"user-directory-service/pkg/logger"
	"user-directory-service/pkg/security"
)

var _ user.Repository = (*UserRepo)(nil)

// UserRepo implements user.Repository with GORM.
type UserRepo struct {
	db  *gorm.DB    // connection-bound GORM handle
	log *zap.Logger // Structured logger for database operations
}

// NewUserRepo creates a new instance of UserRepo.
func NewUserRepo(db *gorm.DB, log *zap.Logger) *UserRepo {
	return &UserRepo{db: db, log: log}
}

// UserSchema represents the database schema for the users table.
type UserSchema struct {
	ID      int64  `gorm:"primaryKey;autoIncrement"`
	Name    string `gorm:"not null;index"`
	Email   string `gorm:"not null;uniqueIndex"`
	Version int64  `gorm:"not null;default:1"`
}

// TableName specifies the table name for the UserSchema model.
func (UserSchema) TableName() string {
	return "users"
}

func (m UserSchema) toDomain() *domain.User {
	return &domain.User{
		ID:      m.ID,
		Name:    m.Name,
		Email:   m.Email,
		Version: m.Version,
	}
}

// Migrate creates the users table and its indexes when absent.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&UserSchema{}); err != nil {
		return fmt.Errorf("failed to migrate users table: %w", err)
	}
	return nil
}

// isUniqueViolation recognises unique constraint failures from sqlite and postgres.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

func notFound() error {
	return pkgerrors.NewNotFoundError("user", user.MsgUserNotFound)
}

func (r *UserRepo) logger(ctx context.Context) *zap.Logger {
	return logger.WithContext(ctx, r.log)
}

// Create inserts a new user and fills in its ID and Version.
func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	if u == nil {
		return errors.New("user cannot be nil")
	}

	model := UserSchema{
		Name:    u.Name,
		Email:   u.Email,
		Version: 1,
	}

	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			r.logger(ctx).Warn("email already registered", zap.String("email", u.Email))
			return pkgerrors.NewAlreadyExistsError("user", user.MsgEmailTaken)
		}
		r.logger(ctx).Error("failed to create user in db", zap.Error(err), zap.String("email", u.Email))
		return pkgerrors.NewInternalError("failed to create user", err)
	}

	u.ID = model.ID
	u.Version = model.Version
	r.logger(ctx).Debug("user created in db", zap.Int64("id", model.ID))
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	var model UserSchema
	if err := r.db.WithContext(ctx).First(&model, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			r.logger(ctx).Debug("user not found", zap.Int64("id", id))
			return nil, notFound()
		}
		r.logger(ctx).Error("failed to get user from db", zap.Error(err), zap.Int64("id", id))
		return nil, pkgerrors.NewInternalError("failed to get user", err)
	}

	return model.toDomain(), nil
}

// Update writes the supplied fields and bumps the version. A non-zero
// expectedVersion restricts the write to that version.
func (r *UserRepo) Update(ctx context.Context, id int64, changes domain.Changes, expectedVersion int64) error {
	updates := map[string]any{
		"version": gorm.Expr("version + 1"),
	}
	if changes.Name != nil {
		updates["name"] = *changes.Name
	}
	if changes.Email != nil {
		updates["email"] = *changes.Email
	}

	q := r.db.WithContext(ctx).Model(&UserSchema{}).Where("id = ?", id)
	if expectedVersion > 0 {
		q = q.Where("version = ?", expectedVersion)
	}

	res := q.Updates(updates)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			r.logger(ctx).Warn("email already registered", zap.Int64("id", id))
			return pkgerrors.NewAlreadyExistsError("user", user.MsgEmailTaken)
		}
		r.logger(ctx).Error("failed to update user in db", zap.Error(res.Error), zap.Int64("id", id))
		return pkgerrors.NewInternalError("failed to update user", res.Error)
	}

	if res.RowsAffected == 0 {
		return r.missOrConflict(ctx, id, expectedVersion)
	}

	r.logger(ctx).Debug("user updated in db", zap.Int64("id", id))
	return nil
}

// Delete removes a user. Without a guard, deleting an already removed row
// is not an error.
func (r *UserRepo) Delete(ctx context.Context, id int64, expectedVersion int64) error {
	q := r.db.WithContext(ctx).Where("id = ?", id)
	if expectedVersion > 0 {
		q = q.Where("version = ?", expectedVersion)
	}

	res := q.Delete(&UserSchema{})
	if res.Error != nil {
		r.logger(ctx).Error("failed to delete user in db", zap.Error(res.Error), zap.Int64("id", id))
		return pkgerrors.NewInternalError("failed to delete user", res.Error)
	}

	if res.RowsAffected == 0 {
		if expectedVersion > 0 {
			return r.missOrConflict(ctx, id, expectedVersion)
		}
		r.logger(ctx).Warn("user vanished before delete", zap.Int64("id", id))
		return nil
	}

	r.logger(ctx).Debug("user deleted in db", zap.Int64("id", id))
	return nil
}

// missOrConflict explains a write that touched no row.
func (r *UserRepo) missOrConflict(ctx context.Context, id int64, expectedVersion int64) error {
	if expectedVersion == 0 {
		return notFound()
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&UserSchema{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return pkgerrors.NewInternalError("failed to check user", err)
	}
	if count == 0 {
		return notFound()
	}

	r.logger(ctx).Warn("stale version", zap.Int64("id", id), zap.Int64("expected_version", expectedVersion))
	return pkgerrors.NewConflictError(user.MsgConcurrentUpdate)
}

// List returns users ordered by id, optionally filtered by a name substring.
func (r *UserRepo) List(ctx context.Context, filter domain.ListFilter) ([]domain.User, error) {
	q := r.db.WithContext(ctx).Model(&UserSchema{})
	if filter.Name != "" {
		q = q.Where(`LOWER(name) LIKE LOWER(?) ESCAPE '\'`, security.ContainsPattern(filter.Name))
	}

	var models []UserSchema
	if err := q.Order("id ASC").Offset(filter.Skip).Limit(filter.Limit).Find(&models).Error; err != nil {
		r.logger(ctx).Error("failed to list users from db", zap.Error(err),
			zap.Int("skip", filter.Skip), zap.Int("limit", filter.Limit), zap.String("name", filter.Name))
		return nil, pkgerrors.NewInternalError("failed to list users", err)
	}

	users := make([]domain.User, len(models))
	for i, model := range models {
		users[i] = *model.toDomain()
	}

	return users, nil
}
