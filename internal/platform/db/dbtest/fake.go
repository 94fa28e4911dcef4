// Package dbtest provides a transaction source that never touches a
// database, for exercising UnitOfWork users in unit tests.
package dbtest

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
)

// Beginner implements db.TxBeginner. The hooks let in-memory stores snapshot
// on begin and restore on rollback.
type Beginner struct {
	mu sync.Mutex

	BeginErr   error
	OnBegin    func()
	OnCommit   func()
	OnRollback func()

	Begun      int
	Committed  int
	RolledBack int
	Levels     []pgx.TxIsoLevel
}

func (b *Beginner) BeginTx(_ context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.BeginErr != nil {
		return nil, b.BeginErr
	}
	b.Begun++
	b.Levels = append(b.Levels, opts.IsoLevel)
	if b.OnBegin != nil {
		b.OnBegin()
	}
	return &Tx{b: b}, nil
}

// Tx is a pgx.Tx whose only working methods are Commit and Rollback. The
// embedded interface is nil; calling anything else panics.
type Tx struct {
	pgx.Tx
	b      *Beginner
	closed bool
}

func (t *Tx) Commit(context.Context) error {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.b.Committed++
	if t.b.OnCommit != nil {
		t.b.OnCommit()
	}
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.b.RolledBack++
	if t.b.OnRollback != nil {
		t.b.OnRollback()
	}
	return nil
}

// ErrBegin is a ready-made failure for BeginErr.
var ErrBegin = errors.New("connection refused")
