package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deadlockErr() error {
	return &mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"}
}

func lockWaitErr() error {
	return &mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}
}

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_NonTransientReturnsImmediately(t *testing.T) {
	t.Parallel()

	boom := errors.New("constraint violation")
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls, "non-transient errors must not be retried")
}

func TestRetry_TransientRecovers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		errs []error
	}{
		{"deadlock then success", []error{deadlockErr(), nil}},
		{"lock wait timeout twice then success", []error{lockWaitErr(), lockWaitErr(), nil}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			calls := 0
			err := Retry(context.Background(), func() error {
				err := tt.errs[calls]
				calls++
				return err
			})
			require.NoError(t, err)
			assert.Equal(t, len(tt.errs), calls)
		})
	}
}

func TestRetry_Exhaustion(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return deadlockErr()
	})
	require.Error(t, err)
	assert.Equal(t, maxAttempts, calls)
	assert.Contains(t, err.Error(), "retries exhausted")

	var me *mysql.MySQLError
	require.True(t, errors.As(err, &me), "the last attempt's error must stay unwrappable")
	assert.Equal(t, uint16(1213), me.Number)
}

func TestRetry_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	start := time.Now()
	err := Retry(ctx, func() error {
		calls++
		cancel()
		return deadlockErr()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "cancellation stops the retry loop before the next attempt")
	assert.Less(t, time.Since(start), time.Second)
}
