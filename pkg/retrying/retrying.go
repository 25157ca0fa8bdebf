// Package retrying provides the bounded backoff policy used for object
// store and warehouse calls.
package retrying

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds how an individual remote call is retried before the
// failure is surfaced. Zero fields take the corresponding default, so the
// zero Policy is usable.
type Policy struct {
	// InitialInterval is the first backoff delay (default 500ms).
	InitialInterval time.Duration
	// MaxInterval caps the delay between attempts (default 5s).
	MaxInterval time.Duration
	// MaxElapsedTime bounds the total time spent retrying one call
	// (default 30s). After this, the last error is returned.
	MaxElapsedTime time.Duration
}

// Do runs op, retrying with exponential backoff until it succeeds, returns
// a permanent error, the policy budget is exhausted, or ctx is done.
func (p Policy) Do(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.MaxElapsedTime > 0 {
		b.MaxElapsedTime = p.MaxElapsedTime
	}
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

// Permanent marks err so Do stops retrying and returns it as-is.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}
