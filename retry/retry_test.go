package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr int

func (s statusErr) Error() string   { return "status" }
func (s statusErr) Retryable() bool { return s == 429 || s >= 500 }

func fast() Policy {
	return Policy{Timeout: time.Second, MaxRetries: 3, InitialWait: time.Millisecond, MaxWait: 2 * time.Millisecond}
}

func TestDoRetriesTransient(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fast(), func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, statusErr(503)
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanent(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fast(), func(ctx context.Context) (int, error) {
		calls++
		return 0, statusErr(403)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	var se statusErr
	assert.True(t, errors.As(err, &se))
}

func TestDoBoundedRetries(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fast(), func(ctx context.Context) (string, error) {
		calls++
		return "", statusErr(429)
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
}

func TestDoPerCallTimeout(t *testing.T) {
	p := fast()
	p.Timeout = 5 * time.Millisecond
	p.MaxRetries = 1
	calls := 0
	_, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		calls++
		<-ctx.Done()
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, calls)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(statusErr(500)))
	assert.False(t, IsTransient(statusErr(400)))
	assert.False(t, IsTransient(errors.New("bad json")))
	assert.True(t, IsTransient(context.DeadlineExceeded))
}
