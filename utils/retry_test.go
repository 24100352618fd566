package utils

import (
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinearBackOff(t *testing.T) {
	t.Run("LinearSchedule", func(t *testing.T) {
		b := NewLinearBackOff(500*time.Millisecond, 4)

		assert.Equal(t, 500*time.Millisecond, b.NextBackOff())
		assert.Equal(t, 1000*time.Millisecond, b.NextBackOff())
		assert.Equal(t, 1500*time.Millisecond, b.NextBackOff())
		assert.Equal(t, backoff.Stop, b.NextBackOff())
	})

	t.Run("Reset", func(t *testing.T) {
		b := NewLinearBackOff(time.Millisecond, 2)
		b.NextBackOff()
		b.NextBackOff()
		assert.Equal(t, backoff.Stop, b.NextBackOff())

		b.Reset()
		assert.Equal(t, time.Millisecond, b.NextBackOff())
	})

	t.Run("BoundsRetryCount", func(t *testing.T) {
		calls := 0
		err := backoff.Retry(func() error {
			calls++
			return errors.New("transient")
		}, NewLinearBackOff(time.Millisecond, 3))

		require.Error(t, err)
		assert.Equal(t, 3, calls)
	})
}
