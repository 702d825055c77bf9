package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/amenity-booking/internal/model"
)

// MySQL server error numbers the repositories translate.
const (
	errDuplicateEntry  = 1062
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

type txKey struct{}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxManager opens MySQL transactions and carries them in the context so
// every repository call made with that context joins the transaction.
type TxManager struct {
	db *sql.DB
}

func NewTxManager(db *sql.DB) *TxManager { return &TxManager{db: db} }

// WithTx runs fn inside a transaction.  A call made while a transaction
// is already in ctx joins it and leaves commit to the outermost call.
func (m *TxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return translate(err)
	}
	committed = true
	return nil
}

func txFrom(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(txKey{}).(*sql.Tx)
	return tx
}

// conn returns the transaction carried by ctx, or db outside one.
func conn(ctx context.Context, db *sql.DB) querier {
	if tx := txFrom(ctx); tx != nil {
		return tx
	}
	return db
}

// translate maps transient MySQL lock failures to model.ErrConflict so
// callers can retry the whole operation.
func translate(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) && (me.Number == errDeadlock || me.Number == errLockWaitTimeout) {
		return errors.Join(model.ErrConflict, err)
	}
	return err
}

// duplicateKey reports the index name of a duplicate-entry error.
func duplicateKey(err error) (string, bool) {
	var me *mysql.MySQLError
	if !errors.As(err, &me) || me.Number != errDuplicateEntry {
		return "", false
	}
	// message form: Duplicate entry '7-3' for key 'bookings.uq_bookings_active'
	msg := me.Message
	if i := strings.LastIndex(msg, "for key '"); i >= 0 {
		key := strings.TrimSuffix(msg[i+len("for key '"):], "'")
		if j := strings.LastIndex(key, "."); j >= 0 {
			key = key[j+1:]
		}
		return key, true
	}
	return "", true
}

func nullUint(v *uint64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func uintPtr(v sql.NullInt64) *uint64 {
	if !v.Valid {
		return nil
	}
	u := uint64(v.Int64)
	return &u
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: v.UTC(), Valid: true}
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
