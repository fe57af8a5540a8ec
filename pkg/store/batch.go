package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// SkipError marks a per-item failure that should be skipped rather than
// abort the whole batch.
type SkipError struct {
	Reason string
	Err    error
}

func (e *SkipError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *SkipError) Unwrap() error { return e.Err }

// Skip returns an error telling ForEach to skip the current item.
func Skip(reason string, err error) error {
	return &SkipError{Reason: reason, Err: err}
}

// ItemResult is the outcome of processing one item in ForEach.
type ItemResult[T any] struct {
	Item    T
	Skipped bool
	Reason  string
}

// Skipped returns only the skipped results.
func Skipped[T any](results []ItemResult[T]) []ItemResult[T] {
	var out []ItemResult[T]
	for _, r := range results {
		if r.Skipped {
			out = append(out, r)
		}
	}
	return out
}

// BatchOptions tunes ForEach.
type BatchOptions struct {
	// ChunkSize is the number of items committed per transaction when
	// savepoints are available. Default 500.
	ChunkSize int
}

// ForEach calls fn for every item. An item whose fn returns a *SkipError is
// rolled back on its own and reported as skipped; any other error stops the
// batch and is returned along with the results gathered so far.
//
// With savepoint support, items are processed in chunked transactions with a
// savepoint per item. Otherwise every item runs in its own transaction.
func ForEach[T any](ctx context.Context, s *Store, items []T, opts BatchOptions, fn func(tx *gorm.DB, item T) error) ([]ItemResult[T], error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 500
	}
	results := make([]ItemResult[T], 0, len(items))

	if !s.caps.Savepoints {
		for _, item := range items {
			err := s.DB(ctx).Transaction(func(tx *gorm.DB) error {
				return fn(tx, item)
			})
			res, fatal := classify(item, err)
			if fatal != nil {
				return results, fatal
			}
			results = append(results, res)
		}
		return results, nil
	}

	for start := 0; start < len(items); start += opts.ChunkSize {
		end := min(start+opts.ChunkSize, len(items))
		chunk := items[start:end]
		var chunkResults []ItemResult[T]

		err := s.DB(ctx).Transaction(func(tx *gorm.DB) error {
			chunkResults = chunkResults[:0]
			for i, item := range chunk {
				sp := fmt.Sprintf("batch_item_%d", i)
				if err := tx.SavePoint(sp).Error; err != nil {
					return fmt.Errorf("create savepoint: %w", err)
				}
				itemErr := fn(tx, item)
				if itemErr != nil {
					var skip *SkipError
					if errors.As(itemErr, &skip) {
						if err := tx.RollbackTo(sp).Error; err != nil {
							return fmt.Errorf("rollback to savepoint: %w", err)
						}
					}
				}
				res, fatal := classify(item, itemErr)
				if fatal != nil {
					return fatal
				}
				chunkResults = append(chunkResults, res)
			}
			return nil
		})
		if err != nil {
			return results, err
		}
		results = append(results, chunkResults...)
	}
	return results, nil
}

func classify[T any](item T, err error) (ItemResult[T], error) {
	if err == nil {
		return ItemResult[T]{Item: item}, nil
	}
	var skip *SkipError
	if errors.As(err, &skip) {
		return ItemResult[T]{Item: item, Skipped: true, Reason: skip.Error()}, nil
	}
	return ItemResult[T]{}, err
}
