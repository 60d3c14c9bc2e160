package cached

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"user-directory-service/internal/adapter/cache"
	domain "user-directory-service/internal/domain/user"
	"user-directory-service/internal/usecase/user"
	pkgerrors "user-directory-service/pkg/errors"
)

// memoryRepo is a map-backed repository that counts reads.
type memoryRepo struct {
	mu    sync.Mutex
	users map[int64]domain.User
	reads atomic.Int64
	delay time.Duration
	// afterRead runs once the row has been read, outside the lock.
	afterRead func()
}

func (m *memoryRepo) Create(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.ID = int64(len(m.users) + 1)
	u.Version = 1
	m.users[u.ID] = *u
	return nil
}

func (m *memoryRepo) GetByID(_ context.Context, id int64) (*domain.User, error) {
	m.reads.Add(1)
	time.Sleep(m.delay)
	m.mu.Lock()
	u, ok := m.users[id]
	hook := m.afterRead
	m.mu.Unlock()
	if !ok {
		return nil, pkgerrors.NewNotFoundError("user", user.MsgUserNotFound)
	}
	if hook != nil {
		hook()
	}
	return &u, nil
}

func (m *memoryRepo) Update(_ context.Context, id int64, changes domain.Changes, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return pkgerrors.NewNotFoundError("user", user.MsgUserNotFound)
	}
	if expectedVersion > 0 && u.Version != expectedVersion {
		return pkgerrors.NewConflictError(user.MsgConcurrentUpdate)
	}
	u = changes.Apply(u)
	u.Version++
	m.users[id] = u
	return nil
}

func (m *memoryRepo) Delete(_ context.Context, id int64, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	return nil
}

func (m *memoryRepo) List(_ context.Context, _ domain.ListFilter) ([]domain.User, error) {
	return nil, nil
}

type memoryStore struct{ repo *memoryRepo }

func (s *memoryStore) Session(_ context.Context, fn func(repo user.Repository) error) error {
	return fn(s.repo)
}

func setupTestStore(t *testing.T) (*Store, *memoryRepo, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	log := zaptest.NewLogger(t)
	repo := &memoryRepo{users: map[int64]domain.User{}}
	store := NewStore(&memoryStore{repo: repo}, cache.NewRedisUserCache(client, time.Minute, log), log)
	return store, repo, mr
}

func getUser(t *testing.T, store *Store, id int64) (*domain.User, error) {
	t.Helper()
	var u *domain.User
	err := store.Session(context.Background(), func(repo user.Repository) error {
		var err error
		u, err = repo.GetByID(context.Background(), id)
		return err
	})
	return u, err
}

func TestStore_GetByID_ReadsThrough(t *testing.T) {
	store, repo, mr := setupTestStore(t)
	ctx := context.Background()

	u := &domain.User{Name: "Alice", Email: "alice@example.com"}
	require.NoError(t, store.Session(ctx, func(r user.Repository) error { return r.Create(ctx, u) }))

	first, err := getUser(t, store, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", first.Name)
	assert.True(t, mr.Exists(cache.Key(u.ID)))

	second, err := getUser(t, store, u.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), repo.reads.Load(), "second read served from cache")
}

func TestStore_GetByID_NotFoundIsNotCached(t *testing.T) {
	store, _, mr := setupTestStore(t)

	_, err := getUser(t, store, 9)
	var notFoundErr *pkgerrors.NotFoundError
	assert.ErrorAs(t, err, &notFoundErr)
	assert.False(t, mr.Exists(cache.Key(9)))
}

func TestStore_WritesInvalidate(t *testing.T) {
	store, repo, mr := setupTestStore(t)
	ctx := context.Background()

	u := &domain.User{Name: "Alice", Email: "alice@example.com"}
	require.NoError(t, store.Session(ctx, func(r user.Repository) error { return r.Create(ctx, u) }))
	_, err := getUser(t, store, u.ID)
	require.NoError(t, err)

	name := "Alicia"
	require.NoError(t, store.Session(ctx, func(r user.Repository) error {
		return r.Update(ctx, u.ID, domain.Changes{Name: &name}, 0)
	}))
	assert.False(t, mr.Exists(cache.Key(u.ID)))

	got, err := getUser(t, store, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alicia", got.Name)
	assert.Equal(t, int64(2), got.Version)

	require.NoError(t, store.Session(ctx, func(r user.Repository) error { return r.Delete(ctx, u.ID, 0) }))
	assert.False(t, mr.Exists(cache.Key(u.ID)))

	_, err = getUser(t, store, u.ID)
	var notFoundErr *pkgerrors.NotFoundError
	assert.ErrorAs(t, err, &notFoundErr)
	assert.Equal(t, int64(3), repo.reads.Load())
}

func TestStore_FailedUpdateStillInvalidates(t *testing.T) {
	store, _, mr := setupTestStore(t)
	ctx := context.Background()

	u := &domain.User{Name: "Alice", Email: "alice@example.com"}
	require.NoError(t, store.Session(ctx, func(r user.Repository) error { return r.Create(ctx, u) }))
	_, err := getUser(t, store, u.ID)
	require.NoError(t, err)

	name := "x"
	err = store.Session(ctx, func(r user.Repository) error {
		return r.Update(ctx, u.ID, domain.Changes{Name: &name}, 5)
	})
	var conflictErr *pkgerrors.ConflictError
	assert.ErrorAs(t, err, &conflictErr)
	assert.False(t, mr.Exists(cache.Key(u.ID)))
}

func TestStore_DeleteDuringLoadIsNotCached(t *testing.T) {
	store, repo, mr := setupTestStore(t)
	ctx := context.Background()

	u := &domain.User{Name: "Frank", Email: "frank@example.com"}
	require.NoError(t, store.Session(ctx, func(r user.Repository) error { return r.Create(ctx, u) }))

	loaded := make(chan struct{})
	resume := make(chan struct{})
	repo.mu.Lock()
	repo.afterRead = func() {
		close(loaded)
		<-resume
	}
	repo.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := getUser(t, store, u.ID)
		done <- err
	}()

	<-loaded
	repo.mu.Lock()
	repo.afterRead = nil
	repo.mu.Unlock()

	require.NoError(t, store.Session(ctx, func(r user.Repository) error { return r.Delete(ctx, u.ID, 0) }))
	close(resume)
	require.NoError(t, <-done)

	assert.False(t, mr.Exists(cache.Key(u.ID)))
	_, err := getUser(t, store, u.ID)
	var notFoundErr *pkgerrors.NotFoundError
	assert.ErrorAs(t, err, &notFoundErr)
}

func TestStore_GetByID_CollapsesConcurrentMisses(t *testing.T) {
	store, repo, _ := setupTestStore(t)
	ctx := context.Background()

	u := &domain.User{Name: "Alice", Email: "alice@example.com"}
	require.NoError(t, store.Session(ctx, func(r user.Repository) error { return r.Create(ctx, u) }))
	repo.delay = 50 * time.Millisecond

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := getUser(t, store, u.ID)
			assert.NoError(t, err)
			assert.Equal(t, "Alice", got.Name)
		}()
	}
	wg.Wait()

	assert.Less(t, repo.reads.Load(), int64(n))
}

func TestStore_CacheDownFallsBackToDatabase(t *testing.T) {
	store, repo, mr := setupTestStore(t)
	ctx := context.Background()

	u := &domain.User{Name: "Alice", Email: "alice@example.com"}
	require.NoError(t, store.Session(ctx, func(r user.Repository) error { return r.Create(ctx, u) }))
	mr.Close()

	got, err := getUser(t, store, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)
	assert.Equal(t, int64(1), repo.reads.Load())

	name := "Alicia"
	assert.NoError(t, store.Session(ctx, func(r user.Repository) error {
		return r.Update(ctx, u.ID, domain.Changes{Name: &name}, 0)
	}))
}
