package shared

import "context"

// Transactor runs fn so that every repository write made with the context fn
// receives commits together, or none does when fn returns an error.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// NopTransactor runs fn without a transaction.
type NopTransactor struct{}

// WithinTx implements Transactor.
func (NopTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
