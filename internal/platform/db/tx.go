package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ehr/clinic/internal/platform/apperr"
)

type contextKey string

// DBTxKey holds the open pgx.Tx on a context handed to repositories.
const DBTxKey contextKey = "db_tx"

const handleKey contextKey = "db_tx_handle"

// Queryable is satisfied by *pgxpool.Pool and pgx.Tx.
type Queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// TxFromContext returns the transaction placed on ctx by a UnitOfWork, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// Conn picks the transaction on ctx when there is one, otherwise fallback.
func Conn(ctx context.Context, fallback Queryable) Queryable {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return fallback
}

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Tx is the handle of one open unit of work.
type Tx struct {
	id     uuid.UUID
	level  pgx.TxIsoLevel
	pgx    pgx.Tx
	ctx    context.Context
	closed atomic.Bool
}

// ID identifies the handle in logs and conflict errors.
func (t *Tx) ID() uuid.UUID { return t.id }

// IsoLevel is the isolation level the transaction was started with. Empty
// means the server default.
func (t *Tx) IsoLevel() pgx.TxIsoLevel { return t.level }

// Context carries the transaction to repositories. Every read and write of
// the unit of work must use it.
func (t *Tx) Context() context.Context { return t.ctx }

// UnitOfWork is a begin/commit/rollback boundary that allows exactly one open
// transaction at a time. A second Begin before the first handle is closed
// fails with apperr.TransactionConflictError.
type UnitOfWork struct {
	beginner TxBeginner

	mu     sync.Mutex
	active *Tx
}

func NewUnitOfWork(beginner TxBeginner) *UnitOfWork {
	return &UnitOfWork{beginner: beginner}
}

// UnitOfWorkFactory hands out a fresh UnitOfWork per logical operation.
type UnitOfWorkFactory func() *UnitOfWork

// NewUnitOfWorkFactory binds a factory to one connection source.
func NewUnitOfWorkFactory(beginner TxBeginner) UnitOfWorkFactory {
	return func() *UnitOfWork { return NewUnitOfWork(beginner) }
}

// Begin opens a transaction at the given isolation level. Beginning on a
// context that already carries an open handle fails as well, whichever
// UnitOfWork owns that handle.
func (u *UnitOfWork) Begin(ctx context.Context, level pgx.TxIsoLevel) (*Tx, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.active != nil {
		return nil, &apperr.TransactionConflictError{ActiveID: u.active.id.String()}
	}
	if outer := handleFromContext(ctx); outer != nil && !outer.closed.Load() {
		return nil, &apperr.TransactionConflictError{ActiveID: outer.id.String()}
	}

	ptx, err := u.beginner.BeginTx(ctx, pgx.TxOptions{IsoLevel: level})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	t := &Tx{id: uuid.New(), level: level, pgx: ptx}
	t.ctx = context.WithValue(context.WithValue(ctx, DBTxKey, ptx), handleKey, t)
	u.active = t
	return t, nil
}

// Active reports whether a handle is currently open.
func (u *UnitOfWork) Active() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.active != nil
}

// Commit closes the handle and commits.
func (u *UnitOfWork) Commit(ctx context.Context, t *Tx) error {
	if err := u.release(t); err != nil {
		return err
	}
	if err := t.pgx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Rollback closes the handle and discards its writes. It runs even when ctx
// has been cancelled.
func (u *UnitOfWork) Rollback(ctx context.Context, t *Tx) error {
	if err := u.release(t); err != nil {
		return err
	}
	err := t.pgx.Rollback(context.WithoutCancel(ctx))
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}

func (u *UnitOfWork) release(t *Tx) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if t == nil || u.active != t {
		return apperr.InvalidState("transaction", "closed", "finish a handle that is not open")
	}
	u.active = nil
	t.closed.Store(true)
	return nil
}

func handleFromContext(ctx context.Context) *Tx {
	t, _ := ctx.Value(handleKey).(*Tx)
	return t
}

// Do runs fn inside one transaction; fn's error or panic rolls back.
func (u *UnitOfWork) Do(ctx context.Context, level pgx.TxIsoLevel, fn func(ctx context.Context) error) (err error) {
	t, err := u.Begin(ctx, level)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = u.Rollback(ctx, t)
			panic(p)
		}
	}()

	if err := fn(t.Context()); err != nil {
		if rbErr := u.Rollback(ctx, t); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return u.Commit(ctx, t)
}

// ParseIsoLevel maps config names onto pgx isolation levels.
func ParseIsoLevel(name string) (pgx.TxIsoLevel, error) {
	switch name {
	case "", "default":
		return "", nil
	case "read_committed":
		return pgx.ReadCommitted, nil
	case "repeatable_read":
		return pgx.RepeatableRead, nil
	case "serializable":
		return pgx.Serializable, nil
	default:
		return "", fmt.Errorf("unknown isolation level %q", name)
	}
}
