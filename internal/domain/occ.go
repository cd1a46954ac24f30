package domain

import (
	"context"
	"errors"
	"time"

	"github.com/grachmannico95/palette-cheque/pkg/retry"
)

// MaxConflictRetries bounds read-modify-write loops on a single aggregate.
const MaxConflictRetries = 64

// RetryOnConflict re-runs fn while it fails with ErrVersionConflict. fn must
// re-read the aggregate and re-check its preconditions on every call.
func RetryOnConflict(ctx context.Context, fn func() error) error {
	return retry.Do(ctx, fn,
		retry.WithMaxAttempts(MaxConflictRetries),
		retry.WithBaseDelay(time.Millisecond),
		retry.WithMaxDelay(20*time.Millisecond),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, ErrVersionConflict)
		}),
	)
}
