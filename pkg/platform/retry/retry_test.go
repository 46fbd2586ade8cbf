package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(retries uint64) Policy {
	return Policy{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, MaxRetries: retries}
}

func TestDo(t *testing.T) {
	t.Run("retries until success", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastPolicy(5), func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops after max retries", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastPolicy(2), func(context.Context) error {
			calls++
			return errors.New("still down")
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("permanent errors are not retried", func(t *testing.T) {
		calls := 0
		cause := errors.New("bad data")
		err := Do(context.Background(), fastPolicy(5), func(context.Context) error {
			calls++
			return Permanent(cause)
		})
		require.ErrorIs(t, err, cause)
		assert.Equal(t, 1, calls)
	})

	t.Run("cancelled context stops the loop", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Do(ctx, fastPolicy(5), func(context.Context) error {
			return errors.New("transient")
		})
		require.Error(t, err)
	})
}
