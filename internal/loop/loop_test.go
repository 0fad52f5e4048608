package loop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_RunsCallbacksInOrder(t *testing.T) {
	l := New(8, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	var got []int
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	l.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not drain")
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestLoop_SurvivesPanic(t *testing.T) {
	l := New(4, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	done := make(chan struct{})
	l.Post(func() { panic("boom") })
	l.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop stopped after panic")
	}
}

func TestLoop_After(t *testing.T) {
	l := New(4, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	var fired atomic.Bool
	l.After(10*time.Millisecond, func() { fired.Store(true) })

	require.Eventually(t, fired.Load, time.Second, 5*time.Millisecond)
}

func TestLoop_PostAfterStopDoesNotBlock(t *testing.T) {
	l := New(1, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()
	cancel()
	<-errCh

	l.Post(func() {})
	l.Post(func() {})
}

func TestManual_AdvanceFiresTimersInOrder(t *testing.T) {
	m := NewManual()
	var got []string

	m.After(200*time.Millisecond, func() { got = append(got, "late") })
	m.After(100*time.Millisecond, func() {
		got = append(got, "early")
		m.Post(func() { got = append(got, "posted") })
	})

	m.Advance(150 * time.Millisecond)
	assert.Equal(t, []string{"early", "posted"}, got)
	assert.Equal(t, 1, m.PendingTimers())

	m.Advance(50 * time.Millisecond)
	assert.Equal(t, []string{"early", "posted", "late"}, got)
	assert.Equal(t, 200*time.Millisecond, m.Now())
}
