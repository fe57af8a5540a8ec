package store

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

// withTx returns a context carrying tx.
func withTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// Conn returns the transaction carried by ctx, or db when there is none,
// bound to ctx.
func Conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

// InTransaction runs fn in a transaction. Stores that resolve their
// connection with Conn take part in it through fn's context. Nested calls
// use savepoints.
func InTransaction(ctx context.Context, db *gorm.DB, fn func(ctx context.Context) error) error {
	return Conn(ctx, db).Transaction(func(tx *gorm.DB) error {
		return fn(withTx(ctx, tx))
	})
}
