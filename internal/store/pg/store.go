package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"capitania.club/internal/backend"
	"capitania.club/internal/member"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	// Raised when a path id is not a valid uuid.
	pgErrInvalidTextRepresentation = "22P02"
)

var errNoDB = errors.New("database connection unavailable")

// Notifier receives a Change after every committed mutation.
type Notifier interface {
	Publish(backend.Change) int
}

type Option func(*Store)

// WithNotifier publishes row changes to n.
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notify = n }
}

// WithMaxOpenConns caps the pool size.
func WithMaxOpenConns(n int) Option {
	return func(s *Store) {
		if n > 0 && s.db != nil {
			s.db.SetMaxOpenConns(n)
			s.db.SetMaxIdleConns(n / 2)
		}
	}
}

type Store struct {
	db     *sql.DB
	notify Notifier
	now    func() time.Time
}

var _ member.Store = (*Store)(nil)

// Open connects through the pgx stdlib driver.
func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db, opts...), nil
}

// New wraps an existing handle.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errNoDB
	}
	return s.db.PingContext(ctx)
}

func (s *Store) publish(table string, kind backend.ChangeKind, id string) {
	if s.notify == nil {
		return
	}
	s.notify.Publish(backend.Change{Table: table, Kind: kind, RecordID: id, At: s.now()})
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
