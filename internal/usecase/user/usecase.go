package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	domain "user-directory-service/internal/domain/user"
	pkgerrors "user-directory-service/pkg/errors"
	"user-directory-service/pkg/logger"
	"user-directory-service/pkg/security"
)

// Fixed client-facing messages
const (
	MsgUserNotFound     = "User not found"
	MsgEmailTaken       = "Email already registered"
	MsgConcurrentUpdate = "User was modified concurrently"
	MsgVersionMismatch  = "User version mismatch"
	MsgStoreUnavailable = "Store unavailable"
	MsgInternalError    = "Internal server error"

	resourceUser = "user"
)

// Repository defines the data access operations available inside a store session.
//
// GetByID, Update and Delete report a missing row as *errors.NotFoundError.
// Create and Update report an email collision as *errors.AlreadyExistsError.
// A non-zero expectedVersion guards the write; when the guard fails on an
// existing row the error is *errors.ConflictError.
type Repository interface {
	Create(ctx context.Context, u *domain.User) error
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	Update(ctx context.Context, id int64, changes domain.Changes, expectedVersion int64) error
	Delete(ctx context.Context, id int64, expectedVersion int64) error
	List(ctx context.Context, filter domain.ListFilter) ([]domain.User, error)
}

// Store hands out repositories bound to a single store connection.
// The connection is released when fn returns, whatever the outcome.
type Store interface {
	Session(ctx context.Context, fn func(repo Repository) error) error
}

// Option configures a Usecase.
type Option func(*Usecase)

// WithStrictUpdates guards every update and delete with the version read
// during the same operation.
func WithStrictUpdates(strict bool) Option {
	return func(uc *Usecase) {
		uc.strict = strict
	}
}

// WithListMaxLimit caps the page size of ListUsers.
func WithListMaxLimit(limit int) Option {
	return func(uc *Usecase) {
		uc.maxLimit = limit
	}
}

// Usecase implements the business logic for user management operations.
type Usecase struct {
	store    Store
	log      *zap.Logger
	validate *validator.Validate
	strict   bool
	maxLimit int
}

// New creates a Usecase backed by store.
func New(store Store, log *zap.Logger, opts ...Option) *Usecase {
	uc := &Usecase{
		store:    store,
		log:      log,
		validate: validator.New(),
		maxLimit: domain.DefaultMaxLimit,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// formatValidationError converts validator.ValidationErrors into a ValidationError.
func formatValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	out := &pkgerrors.ValidationError{}
	for _, e := range validationErrors {
		field := strings.ToLower(e.Field())
		var msg string
		switch e.Tag() {
		case "required":
			msg = "is required"
		case "gte":
			msg = fmt.Sprintf("must be greater than or equal to %s", e.Param())
		default:
			msg = "is invalid"
		}
		out.Fields = append(out.Fields, pkgerrors.FieldError{Field: field, Message: msg, Type: e.Tag()})
	}
	return out
}

func notFound() error {
	return pkgerrors.NewNotFoundError(resourceUser, MsgUserNotFound)
}

func toDTO(u *domain.User) *User {
	return &User{
		ID:      u.ID,
		Name:    u.Name,
		Email:   u.Email,
		Version: u.Version,
	}
}

// CreateUser persists a new user. Email uniqueness is left to the store constraint.
func (uc *Usecase) CreateUser(ctx context.Context, in CreateUserRequest) (*User, error) {
	log := logger.WithContext(ctx, uc.log)
	log.Info("creating user", zap.String("name", in.Name), zap.String("email", in.Email))

	if err := uc.validate.Struct(in); err != nil {
		log.Warn("validate failed", zap.Error(err))
		return nil, formatValidationError(err)
	}

	u := &domain.User{Name: in.Name, Email: in.Email}
	err := uc.store.Session(ctx, func(repo Repository) error {
		return repo.Create(ctx, u)
	})
	if err != nil {
		log.Error("failed to create user", zap.String("email", in.Email), zap.Error(err))
		return nil, err
	}

	log.Info("user created", zap.Int64("id", u.ID))
	return toDTO(u), nil
}

// GetUser retrieves a user by ID.
func (uc *Usecase) GetUser(ctx context.Context, in GetUserRequest) (*User, error) {
	log := logger.WithContext(ctx, uc.log)

	// Ids are assigned from 1, so anything else cannot exist
	if in.ID <= 0 {
		log.Debug("get user with impossible id", zap.Int64("id", in.ID))
		return nil, notFound()
	}

	var u *domain.User
	err := uc.store.Session(ctx, func(repo Repository) error {
		var err error
		u, err = repo.GetByID(ctx, in.ID)
		return err
	})
	if err != nil {
		uc.logFailure(log, "failed to get user", in.ID, err)
		return nil, err
	}

	return toDTO(u), nil
}

// UpdateUser applies a partial update and returns the stored result.
// Supplying no field returns the current record without writing.
func (uc *Usecase) UpdateUser(ctx context.Context, in UpdateUserRequest) (*User, error) {
	log := logger.WithContext(ctx, uc.log)
	log.Info("updating user", zap.Int64("id", in.ID), zap.Bool("name_set", in.Name != nil), zap.Bool("email_set", in.Email != nil))

	if in.ID <= 0 {
		return nil, notFound()
	}

	changes := domain.Changes{Name: in.Name, Email: in.Email}

	var result *domain.User
	err := uc.store.Session(ctx, func(repo Repository) error {
		current, err := repo.GetByID(ctx, in.ID)
		if err != nil {
			return err
		}

		if in.IfMatch != 0 && current.Version != in.IfMatch {
			return pkgerrors.NewPreconditionFailedError(MsgVersionMismatch)
		}

		if changes.IsEmpty() {
			result = current
			return nil
		}

		if err := repo.Update(ctx, in.ID, changes, uc.guard(current, in.IfMatch)); err != nil {
			return err
		}

		result, err = repo.GetByID(ctx, in.ID)
		return err
	})
	if err != nil {
		uc.logFailure(log, "failed to update user", in.ID, err)
		return nil, err
	}

	return toDTO(result), nil
}

// DeleteUser removes a user and returns it as it was before deletion.
func (uc *Usecase) DeleteUser(ctx context.Context, in DeleteUserRequest) (*User, error) {
	log := logger.WithContext(ctx, uc.log)
	log.Info("deleting user", zap.Int64("id", in.ID))

	if in.ID <= 0 {
		return nil, notFound()
	}

	var snapshot *domain.User
	err := uc.store.Session(ctx, func(repo Repository) error {
		current, err := repo.GetByID(ctx, in.ID)
		if err != nil {
			return err
		}

		if in.IfMatch != 0 && current.Version != in.IfMatch {
			return pkgerrors.NewPreconditionFailedError(MsgVersionMismatch)
		}

		if err := repo.Delete(ctx, in.ID, uc.guard(current, in.IfMatch)); err != nil {
			return err
		}

		snapshot = current
		return nil
	})
	if err != nil {
		uc.logFailure(log, "failed to delete user", in.ID, err)
		return nil, err
	}

	return toDTO(snapshot), nil
}

// ListUsers returns a window of users ordered by id.
func (uc *Usecase) ListUsers(ctx context.Context, in ListUsersRequest) (*ListUsersResponse, error) {
	log := logger.WithContext(ctx, uc.log)

	if err := uc.validate.Struct(in); err != nil {
		log.Warn("validate failed", zap.Error(err))
		return nil, formatValidationError(err)
	}

	name, err := security.ValidateNameFilter(in.Name)
	if err != nil {
		log.Warn("invalid name filter", zap.String("name", in.Name), zap.Error(err))
		return nil, pkgerrors.NewValidationError("name", err.Error(), "value_error")
	}

	filter := domain.ListFilter{Skip: in.Skip, Limit: in.Limit, Name: name}.Normalize(uc.maxLimit)
	log.Debug("listing users", zap.Int("skip", filter.Skip), zap.Int("limit", filter.Limit), zap.String("name", filter.Name))

	var users []domain.User
	err = uc.store.Session(ctx, func(repo Repository) error {
		var err error
		users, err = repo.List(ctx, filter)
		return err
	})
	if err != nil {
		log.Error("failed to list users", zap.Int("skip", filter.Skip), zap.Int("limit", filter.Limit), zap.Error(err))
		return nil, err
	}

	out := make([]User, len(users))
	for i := range users {
		out[i] = *toDTO(&users[i])
	}

	return &ListUsersResponse{
		Users: out,
		Skip:  filter.Skip,
		Limit: filter.Limit,
	}, nil
}

// guard returns the version a write must match, or 0 for an unguarded write.
func (uc *Usecase) guard(current *domain.User, ifMatch int64) int64 {
	if ifMatch != 0 || uc.strict {
		return current.Version
	}
	return 0
}

// logFailure logs expected outcomes at warn and everything else at error.
func (uc *Usecase) logFailure(log *zap.Logger, msg string, id int64, err error) {
	var notFoundErr *pkgerrors.NotFoundError
	var conflictErr *pkgerrors.ConflictError
	var preconditionErr *pkgerrors.PreconditionFailedError
	var existsErr *pkgerrors.AlreadyExistsError
	switch {
	case errors.As(err, &notFoundErr), errors.As(err, &conflictErr),
		errors.As(err, &preconditionErr), errors.As(err, &existsErr):
		log.Warn(msg, zap.Int64("id", id), zap.Error(err))
	default:
		log.Error(msg, zap.Int64("id", id), zap.Error(err))
	}
}
