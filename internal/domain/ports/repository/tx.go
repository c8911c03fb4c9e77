package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an infra-defined transaction handle (pgx.Tx for Postgres).
// Repositories MUST accept a nil Tx and fall back to the pool.
type Tx interface{}

// TransactionManager runs fn inside a database transaction, passing the handle as tx.
// fn returning an error rolls the transaction back.
//
// Keeps use-case interfaces free of driver types while letting repositories
// detect a tx and use SELECT ... FOR UPDATE.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
