package infra

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"lms-gateway/middleware/ratelimit/domain"
)

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// SQLCounterStore keeps fixed-window counters in a PostgreSQL table.
//
// TryConsume is a single INSERT ... ON CONFLICT DO UPDATE statement: the
// conflicting row is locked for the update, so concurrent callers on one key
// are serialised by the database. Window boundaries use the database clock
// so that every gateway instance agrees on them.
type SQLCounterStore struct {
	db           *sql.DB
	table        string
	cleanupEvery time.Duration
	logger       *zap.Logger

	upsertQuery string
}

type SQLStoreOption func(*SQLCounterStore)

func WithSQLCleanupEvery(d time.Duration) SQLStoreOption {
	return func(s *SQLCounterStore) { s.cleanupEvery = d }
}

func WithSQLLogger(l *zap.Logger) SQLStoreOption {
	return func(s *SQLCounterStore) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewSQLCounterStore(db *sql.DB, table string, opts ...SQLStoreOption) (*SQLCounterStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sql store: db is required")
	}
	if table == "" {
		table = "rate_limit_counters"
	}
	if !tableNameRe.MatchString(table) {
		return nil, fmt.Errorf("sql store: invalid table name %q", table)
	}

	s := &SQLCounterStore{
		db:           db,
		table:        table,
		cleanupEvery: 5 * time.Minute,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upsertQuery = fmt.Sprintf(`INSERT INTO %[1]s AS c (key, count, expires_at)
VALUES ($1, 1, now() + $2::double precision * interval '1 millisecond')
ON CONFLICT (key) DO UPDATE SET
	count = CASE WHEN c.expires_at <= now() THEN 1 ELSE c.count + 1 END,
	expires_at = CASE WHEN c.expires_at <= now() THEN now() + $2::double precision * interval '1 millisecond' ELSE c.expires_at END
RETURNING count, expires_at`, s.table)
	return s, nil
}

var _ domain.CounterStore = (*SQLCounterStore)(nil)

// EnsureSchema creates the counter table when it does not exist yet.
func (s *SQLCounterStore) EnsureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	key        TEXT PRIMARY KEY,
	count      BIGINT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("sql store: create table: %w", err)
	}
	return nil
}

// TryConsume implements domain.CounterStore.
func (s *SQLCounterStore) TryConsume(ctx context.Context, key domain.Key, max int, window time.Duration) (bool, error) {
	if err := domain.ValidateConsume(key, max, window); err != nil {
		return false, err
	}
	c, err := s.Consume(ctx, key, window)
	if err != nil {
		return false, err
	}
	return c.Count <= int64(max), nil
}

// Consume records one occurrence and returns the resulting counter.
func (s *SQLCounterStore) Consume(ctx context.Context, key domain.Key, window time.Duration) (domain.Counter, error) {
	if err := domain.ValidateConsume(key, 1, window); err != nil {
		return domain.Counter{}, err
	}
	windowMs := window.Milliseconds()
	if windowMs < 1 {
		windowMs = 1
	}

	var c domain.Counter
	err := s.db.QueryRowContext(ctx, s.upsertQuery, string(key), windowMs).Scan(&c.Count, &c.ExpiresAt)
	if err != nil {
		return domain.Counter{}, domain.StoreUnavailable("sql upsert", err)
	}
	return c, nil
}

// Get reads the live counter for key without consuming.
func (s *SQLCounterStore) Get(ctx context.Context, key domain.Key) (c domain.Counter, found bool, err error) {
	q := fmt.Sprintf(`SELECT count, expires_at FROM %s WHERE key = $1 AND expires_at > now()`, s.table)
	err = s.db.QueryRowContext(ctx, q, string(key)).Scan(&c.Count, &c.ExpiresAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.Counter{}, false, nil
	case err != nil:
		return domain.Counter{}, false, domain.StoreUnavailable("sql get", err)
	}
	return c, true, nil
}

func (s *SQLCounterStore) Reset(ctx context.Context, key domain.Key) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table)
	if _, err := s.db.ExecContext(ctx, q, string(key)); err != nil {
		return domain.StoreUnavailable("sql delete", err)
	}
	return nil
}

// DeleteExpired removes counters whose window has ended and returns how many
// rows went away.
func (s *SQLCounterStore) DeleteExpired(ctx context.Context) (int64, error) {
	q := fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= now()`, s.table)
	res, err := s.db.ExecContext(ctx, q)
	if err != nil {
		return 0, domain.StoreUnavailable("sql delete expired", err)
	}
	return res.RowsAffected()
}

func (s *SQLCounterStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return domain.StoreUnavailable("sql ping", err)
	}
	return nil
}

// StartJanitor calls DeleteExpired every cleanupEvery until ctx is done.
func (s *SQLCounterStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				n, err := s.DeleteExpired(ctx)
				if err != nil {
					s.logger.Warn("rate limit counter cleanup failed", zap.Error(err))
					continue
				}
				s.logger.Debug("rate limit counters cleaned up", zap.Int64("deleted", n))
			}
		}
	}()
}
