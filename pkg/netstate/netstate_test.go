package netstate

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateString(t *testing.T) {
	assert.Equal(t, "Online", StateOnline.String())
	assert.Equal(t, "Offline", StateOffline.String())
	assert.Equal(t, "Unknown", StateUnknown.String())
	assert.Equal(t, "InvalidState", State(42).String())
}

func TestManualNotifiesOnChangeOnly(t *testing.T) {
	m := NewManual(StateOffline)
	ch, stop := m.Watch()
	defer stop()

	m.SetOnline(false)
	select {
	case s := <-ch:
		t.Fatalf("unexpected notification %v", s)
	default:
	}

	m.SetOnline(true)
	assert.Equal(t, StateOnline, <-ch)
	assert.Equal(t, StateOnline, m.State())
}

func TestManualKeepsLatestForSlowWatcher(t *testing.T) {
	m := NewManual(StateOffline)
	ch, stop := m.Watch()
	defer stop()

	m.Set(StateOnline)
	m.Set(StateOffline)
	m.Set(StateOnline)
	assert.Equal(t, StateOnline, <-ch)
}

func TestManualStopWatching(t *testing.T) {
	m := NewManual(StateOffline)
	ch, stop := m.Watch()
	stop()
	stop()

	m.Set(StateOnline)
	select {
	case s := <-ch:
		t.Fatalf("unexpected notification %v", s)
	default:
	}
}

func TestProber(t *testing.T) {
	var healthy atomic.Bool
	p := NewProber(PingFunc(func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("unreachable")
	}), nil)
	p.CheckInterval = 10 * time.Millisecond

	ch, stop := p.Watch()
	defer stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	require.Equal(t, StateOffline, <-ch)
	healthy.Store(true)
	require.Equal(t, StateOnline, <-ch)
	assert.Equal(t, StateOnline, p.State())
}

func TestProbeTimeout(t *testing.T) {
	p := NewProber(PingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}), nil)
	p.ProbeTimeout = 20 * time.Millisecond

	assert.Equal(t, StateOffline, p.Probe(context.Background()))
}
