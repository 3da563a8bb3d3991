package database

import (
	"context"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"

	"github.com/bjyoucef/inaya-project-sub001/pkg/errors"
)

type txKey struct{}

// Transactor runs fn inside a transaction carried by the context.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// InTx runs fn in a transaction. When ctx already carries one, fn joins it and
// the outermost caller owns commit and retry. Otherwise the whole transaction
// is replayed with exponential backoff while it fails with a retryable lock
// conflict; exhausting the budget yields a CONCURRENT_UPDATE error.
//
// fn may run more than once, so it must not have side effects outside the
// transaction.
//
//	err := db.InTx(ctx, func(ctx context.Context) error {
//	    lot, err := lots.GetForUpdate(ctx, id)
//	    ...
//	    return lots.SetQuantity(ctx, lot.ID, lot.Quantity-n)
//	})
func (db *DB) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if InTransaction(ctx) {
		return fn(ctx)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = db.baseDelay
	policy.MaxInterval = 50 * db.baseDelay
	policy.MaxElapsedTime = 0

	attempt := 0
	conflicted := false
	op := func() error {
		attempt++
		err := db.Transaction(ctx, func(tx *sqlx.Tx) error {
			return fn(context.WithValue(ctx, txKey{}, tx))
		})
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			conflicted = false
			return backoff.Permanent(err)
		}
		conflicted = true
		db.logger.Debug().Err(err).Int("attempt", attempt).Msg("retrying transaction after lock conflict")
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(db.maxRetries)), ctx))
	if err != nil && conflicted && ctx.Err() == nil {
		db.logger.Warn().Err(err).Int("attempts", attempt).Msg("transaction retries exhausted")
		return errors.ConcurrentUpdate(err)
	}
	return err
}

// InTransaction reports whether ctx carries an open transaction.
func InTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*sqlx.Tx)
	return ok
}

// Q returns the transaction carried by ctx, or the pool when there is none.
// Repositories issue every statement through it.
func (db *DB) Q(ctx context.Context) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return db.DB
}
