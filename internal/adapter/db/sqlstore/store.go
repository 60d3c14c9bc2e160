package sqlstore

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"user-directory-service/internal/usecase/user"
	pkgerrors "user-directory-service/pkg/errors"
)

var _ user.Store = (*Store)(nil)

// Store hands out repositories pinned to one pooled connection each.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewStore creates a Store over db.
func NewStore(db *gorm.DB, log *zap.Logger) *Store {
	return &Store{db: db, log: log}
}

// Session acquires a dedicated connection, runs fn against it and returns
// the connection to the pool on every exit path, panics included.
func (s *Store) Session(ctx context.Context, fn func(repo user.Repository) error) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return pkgerrors.NewUnavailableError("store unavailable", err)
	}

	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		s.log.Error("failed to acquire db connection", zap.Error(err))
		return pkgerrors.NewUnavailableError("store unavailable", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			s.log.Warn("failed to release db connection", zap.Error(err))
		}
	}()

	tx := s.db.Session(&gorm.Session{Context: ctx, NewDB: true})
	tx.Statement.ConnPool = conn

	return fn(NewUserRepo(tx, s.log))
}

// Ping verifies the database answers.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
