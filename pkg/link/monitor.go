// Package link watches the WiFi client connection that a hotspot shares.
//
// Watch polls on a fixed interval and, when a Notifier is configured, also
// re-polls as soon as the kernel reports a link or address change. The
// emitted sequence is coalesced and ordered.
package link

import (
	"context"
	"time"

	"github.com/davytheprogrammer/hotspot-manager/pkg/hotspot"
	"github.com/davytheprogrammer/hotspot-manager/pkg/metrics"
	"github.com/davytheprogrammer/hotspot-manager/pkg/util"
)

// DefaultInterval is the poll interval when none is configured.
const DefaultInterval = 3 * time.Second

// Notifier signals that the interface may have changed state.
type Notifier interface {
	Subscribe(ctx context.Context, iface string) (<-chan struct{}, error)
}

// Monitor produces uplink status streams.
type Monitor struct {
	querier  Querier
	interval time.Duration
	notifier Notifier
	metrics  *metrics.Metrics
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithNotifier adds an event source that triggers immediate polls.
func WithNotifier(n Notifier) Option {
	return func(m *Monitor) { m.notifier = n }
}

// WithMetrics records poll errors and uplink state.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) { m.metrics = mt }
}

// New returns a Monitor using q for status queries.
func New(q Querier, opts ...Option) *Monitor {
	m := &Monitor{querier: q, interval: DefaultInterval}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Current performs one query. Query failures are logged and reported as
// Disconnected.
func (m *Monitor) Current(ctx context.Context, iface string) hotspot.UplinkStatus {
	st, err := m.querier.Query(ctx, iface)
	if err != nil {
		if ctx.Err() == nil {
			util.WithInterface(iface).Warnf("uplink query failed: %v", err)
			m.metrics.PollError()
		}
		return hotspot.Disconnected
	}
	return st
}

// Watch emits the current status, then every change, until ctx is
// cancelled. The channel is closed after the last send; values already
// buffered stay readable.
func (m *Monitor) Watch(ctx context.Context, iface string) <-chan hotspot.UplinkStatus {
	out := make(chan hotspot.UplinkStatus, 8)

	var trigger <-chan struct{}
	if m.notifier != nil {
		ch, err := m.notifier.Subscribe(ctx, iface)
		if err != nil {
			util.WithInterface(iface).Warnf("link notifications unavailable, polling only: %v", err)
		} else {
			trigger = ch
		}
	}

	go func() {
		defer close(out)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		var (
			last  hotspot.UplinkStatus
			first = true
		)
		for {
			st := m.Current(ctx, iface)
			if ctx.Err() != nil {
				return
			}
			if first || st != last {
				m.metrics.Uplink(st.Connected)
				select {
				case out <- st:
				case <-ctx.Done():
					return
				}
				first, last = false, st
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case _, ok := <-trigger:
				if !ok {
					trigger = nil
				}
			}
		}
	}()
	return out
}
