package cached

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"user-directory-service/internal/adapter/cache"
	domain "user-directory-service/internal/domain/user"
	"user-directory-service/internal/usecase/user"
	"user-directory-service/pkg/logger"
)

var (
	_ user.Store      = (*Store)(nil)
	_ user.Repository = (*UserRepository)(nil)
)

// Store decorates a user.Store so that every session repository reads
// through the cache. The singleflight group is shared by all sessions.
type Store struct {
	next  user.Store
	cache cache.UserCache
	log   *zap.Logger
	group *singleflight.Group
}

// NewStore wraps next with cache-aside reads.
func NewStore(next user.Store, c cache.UserCache, log *zap.Logger) *Store {
	return &Store{
		next:  next,
		cache: c,
		log:   log,
		group: &singleflight.Group{},
	}
}

// Session opens a session on the wrapped store and hands fn a caching repository.
func (s *Store) Session(ctx context.Context, fn func(repo user.Repository) error) error {
	return s.next.Session(ctx, func(repo user.Repository) error {
		return fn(&UserRepository{
			dbRepo: repo,
			cache:  s.cache,
			log:    s.log,
			group:  s.group,
		})
	})
}

// UserRepository implements user.Repository with caching support.
type UserRepository struct {
	dbRepo user.Repository
	cache  cache.UserCache
	log    *zap.Logger
	group  *singleflight.Group
}

// Create delegates to the DB repository.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	return r.dbRepo.Create(ctx, u)
}

// GetByID retrieves a user by ID using the cache-aside pattern.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	log := logger.WithContext(ctx, r.log)

	if u := r.fromCache(ctx, log, id); u != nil {
		return u, nil
	}

	result, err, shared := r.group.Do(cache.Key(id), func() (any, error) {
		// Another caller may have filled the entry while this one waited.
		if u := r.fromCache(ctx, log, id); u != nil {
			return u, nil
		}

		// Read before the database so a Delete racing this load is noticed.
		gen, genErr := r.cache.Generation(ctx, id)
		if genErr != nil {
			log.Warn("cache generation error, result will not be cached", zap.Int64("id", id), zap.Error(genErr))
		}

		u, err := r.dbRepo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if genErr == nil {
			if _, err := r.cache.Set(ctx, u, gen); err != nil {
				log.Warn("failed to cache user", zap.Int64("id", id), zap.Error(err))
			}
		}
		return u, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Debug("user load shared", zap.Int64("id", id))
	}

	// Callers may mutate what they get back.
	u := *result.(*domain.User)
	return &u, nil
}

func (r *UserRepository) fromCache(ctx context.Context, log *zap.Logger, id int64) *domain.User {
	u, err := r.cache.Get(ctx, id)
	if err != nil {
		log.Warn("cache get error, falling back to database", zap.Int64("id", id), zap.Error(err))
		return nil
	}
	return u
}

// Update updates the user in DB and invalidates the cache.
func (r *UserRepository) Update(ctx context.Context, id int64, changes domain.Changes, expectedVersion int64) error {
	err := r.dbRepo.Update(ctx, id, changes, expectedVersion)
	r.invalidate(ctx, id, "update")
	return err
}

// Delete deletes the user from DB and invalidates the cache.
func (r *UserRepository) Delete(ctx context.Context, id int64, expectedVersion int64) error {
	err := r.dbRepo.Delete(ctx, id, expectedVersion)
	r.invalidate(ctx, id, "delete")
	return err
}

// invalidate drops the entry whatever the write outcome; a failed or
// conflicting write means the cached copy may already be stale. Loads
// already in flight for id will not store what they read.
func (r *UserRepository) invalidate(ctx context.Context, id int64, op string) {
	if err := r.cache.Delete(ctx, id); err != nil {
		logger.WithContext(ctx, r.log).Warn("failed to invalidate cache", zap.String("op", op), zap.Int64("id", id), zap.Error(err))
	}
}

// List delegates to the DB repository.
func (r *UserRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.User, error) {
	return r.dbRepo.List(ctx, filter)
}
