package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := New(Config{
		FailureThreshold: 3,
		MinimumRequests:  3,
		FailureWindow:    time.Minute,
		RecoveryTimeout:  50 * time.Millisecond,
		HalfOpenMaxCalls: 2,
		SuccessThreshold: 0.5,
	})

	for i := 0; i < 3; i++ {
		p, ok := b.CanProceed()
		require.True(t, ok)
		b.RecordOutcome(p, Failure)
	}

	assert.Equal(t, Open, b.State())

	_, ok := b.CanProceed()
	assert.False(t, ok)
}

func TestBreaker_HalfOpenClosesOnSuccess(t *testing.T) {
	b := New(Config{
		FailureThreshold: 1,
		MinimumRequests:  1,
		FailureWindow:    time.Minute,
		RecoveryTimeout:  10 * time.Millisecond,
		HalfOpenMaxCalls: 2,
		SuccessThreshold: 0.5,
	})

	p, ok := b.CanProceed()
	require.True(t, ok)
	b.RecordOutcome(p, Failure)
	require.Equal(t, Open, b.State())

	time.Sleep(20 * time.Millisecond)

	p1, ok := b.CanProceed()
	require.True(t, ok)
	p2, ok := b.CanProceed()
	require.True(t, ok)

	assert.Equal(t, HalfOpen, b.State())

	b.RecordOutcome(p1, Success)
	b.RecordOutcome(p2, Success)

	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenReopensOnFailure(t *testing.T) {
	b := New(Config{
		FailureThreshold: 1,
		MinimumRequests:  1,
		FailureWindow:    time.Minute,
		RecoveryTimeout:  10 * time.Millisecond,
		HalfOpenMaxCalls: 2,
		SuccessThreshold: 0.9,
	})

	p, ok := b.CanProceed()
	require.True(t, ok)
	b.RecordOutcome(p, Failure)
	time.Sleep(20 * time.Millisecond)

	p1, ok := b.CanProceed()
	require.True(t, ok)
	b.RecordOutcome(p1, Failure)

	assert.Equal(t, Open, b.State())
}

func TestBreaker_HalfOpenRejectsBeyondMaxCalls(t *testing.T) {
	b := New(Config{
		FailureThreshold: 1,
		MinimumRequests:  1,
		FailureWindow:    time.Minute,
		RecoveryTimeout:  5 * time.Millisecond,
		HalfOpenMaxCalls: 1,
		SuccessThreshold: 0.5,
	})

	p, ok := b.CanProceed()
	require.True(t, ok)
	b.RecordOutcome(p, Failure)
	time.Sleep(15 * time.Millisecond)

	_, ok = b.CanProceed()
	require.True(t, ok)

	_, ok = b.CanProceed()
	assert.False(t, ok, "second concurrent probe beyond half_open_max_calls must be rejected")
}

func TestBreaker_WindowPrunesOldOutcomes(t *testing.T) {
	b := New(Config{
		FailureThreshold: 2,
		MinimumRequests:  2,
		FailureWindow:    20 * time.Millisecond,
		RecoveryTimeout:  time.Second,
		HalfOpenMaxCalls: 1,
		SuccessThreshold: 0.5,
	})

	p, _ := b.CanProceed()
	b.RecordOutcome(p, Failure)

	time.Sleep(30 * time.Millisecond)

	p2, _ := b.CanProceed()
	b.RecordOutcome(p2, Failure)

	assert.Equal(t, Closed, b.State(), "the first failure should have aged out of the window")
}

func TestBreaker_SubscriberNeverBlocksProducer(t *testing.T) {
	b := New(Config{
		FailureThreshold: 1,
		MinimumRequests:  1,
		FailureWindow:    time.Minute,
		RecoveryTimeout:  time.Millisecond,
		HalfOpenMaxCalls: 1,
		SuccessThreshold: 0.5,
	})

	events := b.Subscribe(1)

	for i := 0; i < 5; i++ {
		p, ok := b.CanProceed()
		if !ok {
			continue
		}
		b.RecordOutcome(p, Failure)
		time.Sleep(2 * time.Millisecond)
	}

	select {
	case <-events:
	case <-time.After(time.Second):
		t.Fatal("expected at least one buffered event")
	}
}
