package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	providerdomain "github.com/smallbiznis/waplink/internal/provider/domain"
)

// Policy retries gateway calls that failed transiently. Only
// ErrRemoteUnavailable is worth another attempt; everything else is
// either permanent or carries meaning the caller must see.
type Policy struct {
	MaxElapsed time.Duration
	Initial    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxElapsed: 10 * time.Second, Initial: 250 * time.Millisecond}
}

func (p Policy) Do(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxElapsedTime = p.MaxElapsed

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, providerdomain.ErrRemoteUnavailable) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, ctx))
}
