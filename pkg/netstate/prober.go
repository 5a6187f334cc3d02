package netstate

import (
	"context"
	"time"

	"github.com/surrealdb/surrealtodo/pkg/logger"
)

// Pinger is anything that can check the remote end, such as remote.Client
// or the http transport's Health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

const (
	DefaultCheckInterval = 5 * time.Second
	DefaultProbeTimeout  = 3 * time.Second
)

// Prober is a Monitor that pings the remote end periodically.
type Prober struct {
	hub

	pinger Pinger

	// CheckInterval is the delay between probes.
	CheckInterval time.Duration
	// ProbeTimeout bounds a single probe.
	ProbeTimeout time.Duration

	logger logger.Logger
}

var _ Monitor = (*Prober)(nil)

func NewProber(p Pinger, log logger.Logger) *Prober {
	if log == nil {
		log = logger.Nop()
	}
	return &Prober{
		pinger:        p,
		CheckInterval: DefaultCheckInterval,
		ProbeTimeout:  DefaultProbeTimeout,
		logger:        log,
	}
}

// Probe pings once and updates the state.
func (p *Prober) Probe(ctx context.Context) State {
	timeout := p.ProbeTimeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	next := StateOnline
	if err := p.pinger.Ping(ctx); err != nil {
		p.logger.Debug("netstate probe failed", "error", err)
		next = StateOffline
	}
	if p.set(next) {
		p.logger.Info("netstate transitioned", "new_state", next)
	}
	return next
}

// Run probes immediately and then every CheckInterval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	interval := p.CheckInterval
	if interval <= 0 {
		interval = DefaultCheckInterval
	}

	p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		p.Probe(ctx)
	}
}
