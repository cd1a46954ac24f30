package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/grachmannico95/palette-cheque/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockEscalator struct {
	mock.Mock
}

func (m *mockEscalator) AutoEscalate(ctx context.Context, now time.Time, threshold time.Duration) (int, error) {
	args := m.Called(ctx, now, threshold)
	return args.Int(0), args.Error(1)
}

type resetterFunc func(ctx context.Context, now time.Time) (int, error)

func (f resetterFunc) ResetQuotas(ctx context.Context, now time.Time) (int, error) {
	return f(ctx, now)
}

func TestAdd_Validation(t *testing.T) {
	s := New(logger.NewNop())
	assert.Error(t, s.Add(Job{Name: "x"}))
	assert.Error(t, s.Add(Job{Run: func(context.Context, time.Time) error { return nil }}))
	assert.NoError(t, s.Add(Job{Name: "x", Run: func(context.Context, time.Time) error { return nil }}))
	assert.Equal(t, DefaultInterval, s.jobs[0].Interval)
}

func TestTick_UsesInjectedClock(t *testing.T) {
	fixed := time.Date(2026, 10, 21, 9, 0, 0, 0, time.UTC)
	esc := &mockEscalator{}
	esc.On("AutoEscalate", mock.Anything, fixed, 48*time.Hour).Return(1, nil).Once()

	s := New(logger.NewNop(), WithClock(func() time.Time { return fixed }))
	require.NoError(t, s.Add(EscalationJob(esc, time.Hour, 48*time.Hour)))

	s.Tick(context.Background())
	esc.AssertExpectations(t)
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	var runs atomic.Int32
	s := New(logger.NewNop())
	require.NoError(t, s.Add(Job{
		Name:     "counter",
		Interval: 5 * time.Millisecond,
		Run: func(context.Context, time.Time) error {
			runs.Add(1)
			return errors.New("keeps going after failures")
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
}

func TestQuotaResetJob_RunsOnStart(t *testing.T) {
	var calls atomic.Int32
	job := QuotaResetJob(resetterFunc(func(context.Context, time.Time) (int, error) {
		calls.Add(1)
		return 0, nil
	}), time.Hour)

	s := New(logger.NewNop())
	require.NoError(t, s.Add(job))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestRunJob_SkippedAfterCancellation(t *testing.T) {
	var calls atomic.Int32
	s := New(logger.NewNop())
	require.NoError(t, s.Add(Job{Name: "x", Run: func(context.Context, time.Time) error {
		calls.Add(1)
		return nil
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Tick(ctx)
	assert.Zero(t, calls.Load())
}
