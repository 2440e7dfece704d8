package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	providerdomain "github.com/smallbiznis/waplink/internal/provider/domain"
	"github.com/stretchr/testify/assert"
)

func fastPolicy() Policy {
	return Policy{MaxElapsed: 200 * time.Millisecond, Initial: time.Millisecond}
}

func TestDoRetriesTransientFailures(t *testing.T) {
	attempts := 0
	err := fastPolicy().Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("%w: connection refused", providerdomain.ErrRemoteUnavailable)
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnPermanentErrors(t *testing.T) {
	attempts := 0
	err := fastPolicy().Do(context.Background(), func() error {
		attempts++
		return providerdomain.ErrConfigurationMissing
	})
	assert.ErrorIs(t, err, providerdomain.ErrConfigurationMissing)
	assert.Equal(t, 1, attempts)
}

func TestDoGivesUpAfterMaxElapsed(t *testing.T) {
	err := fastPolicy().Do(context.Background(), func() error {
		return fmt.Errorf("%w: still down", providerdomain.ErrRemoteUnavailable)
	})
	assert.ErrorIs(t, err, providerdomain.ErrRemoteUnavailable)
}
