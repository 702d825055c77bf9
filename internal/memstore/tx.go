// Package memstore keeps slots, credits, bookings, settings and penalties
// in process memory.  It backs the development profile and the engine
// tests.  Every single-entity operation is atomic; multi-entity
// transactions are sagas: each mutation records a compensating action and
// a failed WithTx runs them in reverse.  Writes are visible to other
// callers before the transaction ends, so compensations are expressed as
// deltas rather than restored snapshots.
package memstore

import (
	"context"
	"sync"
)

type undoKey struct{}

type undoLog struct {
	mu    sync.Mutex
	steps []func()
}

func (u *undoLog) push(fn func()) {
	u.mu.Lock()
	u.steps = append(u.steps, fn)
	u.mu.Unlock()
}

func (u *undoLog) rollback() {
	u.mu.Lock()
	steps := u.steps
	u.steps = nil
	u.mu.Unlock()
	for i := len(steps) - 1; i >= 0; i-- {
		steps[i]()
	}
}

// onRollback registers fn to run if the transaction in ctx fails.  Outside
// a transaction the mutation is final and fn is dropped.
func onRollback(ctx context.Context, fn func()) {
	if u, ok := ctx.Value(undoKey{}).(*undoLog); ok {
		u.push(fn)
	}
}

// WithTx runs fn as one unit.  Nested calls join the outer unit.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(undoKey{}).(*undoLog); ok {
		return fn(ctx)
	}
	u := &undoLog{}
	txCtx := context.WithValue(ctx, undoKey{}, u)
	defer func() {
		if p := recover(); p != nil {
			u.rollback()
			panic(p)
		}
	}()
	if err = fn(txCtx); err != nil {
		u.rollback()
		return err
	}
	return nil
}
