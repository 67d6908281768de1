package gateway

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/wfprobe/internal/apierr"
	"github.com/roach88/wfprobe/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scripted returns an operation that yields errs in order, then succeeds.
func scripted(errs ...error) (func(context.Context) (int, error), *int) {
	calls := 0
	return func(context.Context) (int, error) {
		calls++
		if calls <= len(errs) {
			return 0, errs[calls-1]
		}
		return 42, nil
	}, &calls
}

func rateLimited() error {
	return apierr.FromStatus(http.StatusForbidden, "API rate limit exceeded", http.Header{"X-Ratelimit-Remaining": {"0"}}, nil)
}

func newTestGateway(clock *testutil.FakeClock) *Gateway {
	return New(DefaultPolicy(time.Minute, 5*time.Minute), WithClock(clock))
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	clock := testutil.NewFakeClock()
	g := newTestGateway(clock)
	op, calls := scripted()

	v, err := Do(context.Background(), g, "issues.create", op)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, *calls)
	assert.Empty(t, clock.Sleeps())
}

func TestDo_RateLimitedThenSuccessWithinCeiling(t *testing.T) {
	clock := testutil.NewFakeClock()
	g := newTestGateway(clock)
	op, calls := scripted(rateLimited(), rateLimited())

	v, err := Do(context.Background(), g, "issues.create", op)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, *calls, "succeeds on the third attempt")
	assert.Equal(t, []time.Duration{time.Minute, time.Minute}, clock.Sleeps())
}

func TestDo_RateLimitExhaustsAfterThreeAttempts(t *testing.T) {
	clock := testutil.NewFakeClock()
	g := newTestGateway(clock)
	op, calls := scripted(rateLimited(), rateLimited(), rateLimited())

	_, err := Do(context.Background(), g, "issues.create", op)
	require.Error(t, err)
	assert.Equal(t, 3, *calls, "never exceeds the attempt ceiling")

	var apiErr *apierr.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Exhausted)
	assert.Equal(t, 3, apiErr.Attempts)
	assert.Equal(t, apierr.RateLimited, apiErr.Kind)
	assert.Equal(t, "issues.create", apiErr.Op)
	assert.Len(t, clock.Sleeps(), 2, "no wait after the final attempt")
}

func TestDo_HonoursRetryAfter(t *testing.T) {
	clock := testutil.NewFakeClock()
	g := newTestGateway(clock)
	secondary := apierr.FromStatus(http.StatusTooManyRequests, "", http.Header{"Retry-After": {"9"}}, nil)
	op, _ := scripted(secondary)

	_, err := Do(context.Background(), g, "pulls.create", op)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{9 * time.Second}, clock.Sleeps())
}

func TestDo_RetryAfterCappedAtMaxWait(t *testing.T) {
	clock := testutil.NewFakeClock()
	g := New(DefaultPolicy(time.Second, 30*time.Second), WithClock(clock))
	secondary := apierr.FromStatus(http.StatusTooManyRequests, "", http.Header{"Retry-After": {"3600"}}, nil)
	op, _ := scripted(secondary)

	_, err := Do(context.Background(), g, "pulls.create", op)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{30 * time.Second}, clock.Sleeps())
}

func TestDo_NonRetryableKindsFailFast(t *testing.T) {
	tests := []struct {
		name   string
		status int
		msg    string
		kind   apierr.Kind
	}{
		{"validation", http.StatusUnprocessableEntity, "Validation Failed", apierr.Validation},
		{"permission", http.StatusForbidden, "Resource not accessible", apierr.Permission},
		{"server", http.StatusBadGateway, "bad gateway", apierr.Server},
		{"not found", http.StatusNotFound, "Not Found", apierr.Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := testutil.NewFakeClock()
			g := newTestGateway(clock)
			op, calls := scripted(apierr.FromStatus(tt.status, tt.msg, nil, nil))

			_, err := Do(context.Background(), g, "op", op)
			require.Error(t, err)
			assert.True(t, apierr.IsKind(err, tt.kind))
			assert.Equal(t, 1, *calls)
			assert.Empty(t, clock.Sleeps())
		})
	}
}

func TestDo_PlainErrorClassifiedUnknown(t *testing.T) {
	g := newTestGateway(testutil.NewFakeClock())
	op, _ := scripted(errors.New("connection reset"))

	_, err := Do(context.Background(), g, "op", op)
	assert.True(t, apierr.IsKind(err, apierr.Unknown))
}

func TestDo_CancelledDuringWait(t *testing.T) {
	clock := testutil.NewFakeClock()
	g := newTestGateway(clock)
	ctx, cancel := context.WithCancel(context.Background())
	clock.OnSleep = func(time.Time) { cancel() }

	op, calls := scripted(rateLimited(), rateLimited())
	_, err := Do(ctx, g, "op", op)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, *calls)
}

func TestDo_CustomPolicy(t *testing.T) {
	clock := testutil.NewFakeClock()
	policy := Policy{
		MaxAttempts: 5,
		Backoff:     func(attempt int, _ *apierr.APIError) time.Duration { return time.Duration(attempt) * time.Second },
		Retryable:   func(e *apierr.APIError) bool { return e.Kind == apierr.Server },
	}
	g := New(policy, WithClock(clock))
	server := apierr.FromStatus(http.StatusInternalServerError, "", nil, nil)
	op, calls := scripted(server, server, server)

	_, err := Do(context.Background(), g, "op", op)
	require.NoError(t, err)
	assert.Equal(t, 4, *calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, clock.Sleeps())
}

func TestCall_CountsEveryAttempt(t *testing.T) {
	g := newTestGateway(testutil.NewFakeClock())
	n := 0
	err := g.Call(context.Background(), "op", func(context.Context) error {
		n++
		if n == 1 {
			return rateLimited()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, g.Calls())
}

func TestPolicy_ZeroValueMakesSingleAttempt(t *testing.T) {
	g := New(Policy{}, WithClock(testutil.NewFakeClock()))
	op, calls := scripted(rateLimited())

	_, err := Do(context.Background(), g, "op", op)
	require.Error(t, err)
	assert.Equal(t, 1, *calls)
}

func TestServerAdvisedBackoff(t *testing.T) {
	backoff := ServerAdvisedBackoff(10*time.Second, time.Minute)

	assert.Equal(t, 10*time.Second, backoff(1, &apierr.APIError{Kind: apierr.RateLimited}))
	assert.Equal(t, 20*time.Second, backoff(1, &apierr.APIError{Kind: apierr.RateLimited, RetryAfter: 20 * time.Second}))
	assert.Equal(t, time.Minute, backoff(1, &apierr.APIError{Kind: apierr.RateLimited, RetryAfter: time.Hour}))
	assert.Equal(t, 10*time.Second, backoff(1, nil))
}
