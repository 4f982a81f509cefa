package book_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/library-service/cmd/api/book"
	"github.com/matryer/is"
)

func TestRetryOnStorageFailure(t *testing.T) {
	storageErr := fmt.Errorf("BorrowBook: %w: %w", book.ErrResponseStorageFailure, errors.New("deadlock detected"))

	t.Run("retries storage failures until one attempt succeeds", func(t *testing.T) {
		is := is.New(t)

		calls := 0
		err := book.RetryOnStorageFailure(ctx, 3, func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return storageErr
			}
			return nil
		})
		is.NoErr(err)
		is.Equal(calls, 3)
	})

	t.Run("gives up after the last attempt", func(t *testing.T) {
		is := is.New(t)

		calls := 0
		err := book.RetryOnStorageFailure(ctx, 2, func(ctx context.Context) error {
			calls++
			return storageErr
		})
		is.True(errors.Is(err, book.ErrResponseStorageFailure))
		is.Equal(calls, 2)
	})

	t.Run("business rejections are never retried", func(t *testing.T) {
		is := is.New(t)

		calls := 0
		err := book.RetryOnStorageFailure(ctx, 5, func(ctx context.Context) error {
			calls++
			return fmt.Errorf("borrowing book: %w", book.ErrResponseLoanLimitExceeded)
		})
		is.True(errors.Is(err, book.ErrResponseLoanLimitExceeded))
		is.Equal(calls, 1)
	})

	t.Run("stops waiting when the context is done", func(t *testing.T) {
		is := is.New(t)

		cctx, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
		defer cancel()

		err := book.RetryOnStorageFailure(cctx, 100, func(ctx context.Context) error {
			return storageErr
		})
		is.True(errors.Is(err, context.DeadlineExceeded) || errors.Is(err, book.ErrResponseStorageFailure))
	})

	t.Run("runs at least once", func(t *testing.T) {
		is := is.New(t)

		calls := 0
		err := book.RetryOnStorageFailure(ctx, 0, func(ctx context.Context) error {
			calls++
			return nil
		})
		is.NoErr(err)
		is.Equal(calls, 1)
	})
}
