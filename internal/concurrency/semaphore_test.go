package concurrency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemaphore(t *testing.T) {
	t.Run("acquire and release", func(t *testing.T) {
		sem := NewSemaphore(2)

		err := sem.Acquire(context.Background())
		require.NoError(t, err)

		sem.Release()

		err = sem.Acquire(context.Background())
		require.NoError(t, err)
		err = sem.Acquire(context.Background())
		require.NoError(t, err)
	})

	t.Run("blocking when full", func(t *testing.T) {
		sem := NewSemaphore(1)

		err := sem.Acquire(context.Background())
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		err = sem.Acquire(ctx)
		assert.Error(t, err)
	})

	t.Run("release frees a slot for the next acquire", func(t *testing.T) {
		sem := NewSemaphore(1)

		require.NoError(t, sem.Acquire(context.Background()))
		sem.Release()

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		assert.NoError(t, sem.Acquire(ctx))
	})
}
