package booking

import (
	"context"
	"errors"
	"time"

	"github.com/iliyamo/amenity-booking/internal/model"
)

// Retry calls fn until it succeeds, fails with a non-transient error or
// attempts run out.  Only model.ErrConflict is retried; the wait doubles
// after each attempt starting at base.  Every engine operation is
// all-or-nothing, so a whole retry is safe.
func Retry(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	wait := base
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !errors.Is(err, model.ErrConflict) {
			return err
		}
		if i == attempts-1 {
			break
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(err, ctx.Err())
		case <-t.C:
		}
		wait *= 2
	}
	return err
}
