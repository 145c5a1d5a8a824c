package bidding

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/okian/jobboard/internal/domain/errkind"
)

// Default retry bounds for conflicting bid transactions.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 10 * time.Millisecond
	DefaultMaxDelay    = 200 * time.Millisecond
)

// Policy bounds the retry of a conflicting transaction.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy returns the default retry bounds.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay, MaxDelay: DefaultMaxDelay}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// delay returns the jittered pause after the given failed attempt (1-based):
// uniformly distributed in [d/2, d] where d doubles per attempt up to MaxDelay.
func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	half := d / 2
	return half + rand.N(half+1) //nolint:gosec // jitter, not security
}

// Retry runs fn until it succeeds, fails with anything but a conflict, or
// the attempts are used up. fn receives the 1-based attempt number. When
// every attempt conflicts the last error is returned, still classified as
// errkind.ErrConflict.
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	p = p.normalized()
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = fn(ctx, attempt)
		if err == nil || !errors.Is(err, errkind.ErrConflict) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}
		timer := time.NewTimer(p.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errkind.Wrap("bid.retry", errkind.ErrStore, ctx.Err())
		case <-timer.C:
		}
	}
	return errkind.Wrap("bid.retry", errkind.ErrConflict, fmt.Errorf("gave up after %d attempts: %w", p.MaxAttempts, err))
}
