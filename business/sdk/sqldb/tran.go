package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jcpaschoal/volauth/foundation/logger"
	"github.com/jmoiron/sqlx"
)

// Beginner represents a value that can begin a transaction.
type Beginner interface {
	Begin(ctx context.Context) (CommitRollbacker, error)
}

// CommitRollbacker represents a value that can commit or rollback a transaction.
type CommitRollbacker interface {
	Commit() error
	Rollback() error
}

// =============================================================================

// DBBeginner implements the Beginner interface.
type DBBeginner struct {
	sqlxDB *sqlx.DB
}

// NewBeginner constructs a value that implements the beginner interface.
func NewBeginner(sqlxDB *sqlx.DB) *DBBeginner {
	return &DBBeginner{
		sqlxDB: sqlxDB,
	}
}

// Begin implements the Beginner interface and returns a concrete value that
// implements the CommitRollbacker interface.
func (db *DBBeginner) Begin(ctx context.Context) (CommitRollbacker, error) {
	return db.sqlxDB.BeginTxx(ctx, nil)
}

// GetExtContext is a helper function that extracts the sqlx value
// from the domain transactor interface for transactional use.
func GetExtContext(tx CommitRollbacker) (sqlx.ExtContext, error) {
	ec, ok := tx.(sqlx.ExtContext)
	if !ok {
		return nil, fmt.Errorf("Transactor(%T) not of a type *sql.Tx", tx)
	}

	return ec, nil
}

// =============================================================================

// WithinTran runs fn inside a transaction. The transaction is committed when
// fn returns nil and rolled back otherwise, so either every statement issued
// through tx is applied or none is.
func WithinTran(ctx context.Context, log *logger.Logger, bgn Beginner, fn func(tx CommitRollbacker) error) error {
	hasCommitted := false

	log.Debug(ctx, "BEGIN TRANSACTION")
	tx, err := bgn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("BEGIN TRANSACTION: %w", err)
	}

	defer func() {
		if !hasCommitted {
			log.Info(ctx, "ROLLBACK TRANSACTION")
		}

		if err := tx.Rollback(); err != nil {
			if errors.Is(err, sql.ErrTxDone) {
				return
			}
			log.Info(ctx, "ROLLBACK TRANSACTION", "ERROR", err)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	log.Debug(ctx, "COMMIT TRANSACTION")
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("COMMIT TRANSACTION: %w", mapError(err))
	}

	hasCommitted = true

	return nil
}
