// Package engine runs the hotspot session state machine.
//
// One goroutine (Run) owns the session state. Start, Stop and Status post
// commands to it and wait for the reply. Blocking work (probing, bring-up,
// NAT changes, teardown) runs as a single in-flight operation whose result
// is posted back to the loop; uplink events and timer expiries that arrive
// meanwhile are queued and applied afterwards in arrival order.
//
//	Idle -> Probing -> Starting -> Running
//	Running -> Recovering -> Starting -> Running   (uplink back within grace)
//	Recovering -> Error(uplink_lost)               (grace elapsed)
//	any -> Stopping -> Idle                        (stop)
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/davytheprogrammer/hotspot-manager/pkg/apsvc"
	"github.com/davytheprogrammer/hotspot-manager/pkg/devices"
	"github.com/davytheprogrammer/hotspot-manager/pkg/hotspot"
	"github.com/davytheprogrammer/hotspot-manager/pkg/metrics"
	"github.com/davytheprogrammer/hotspot-manager/pkg/nat"
)

// ErrNotRunning is returned by requests made after Run has returned.
var ErrNotRunning = errors.New("engine: not running")

// Defaults for Options.
const (
	DefaultGracePeriod   = 30 * time.Second
	DefaultRetryDelay    = 500 * time.Millisecond
	DefaultRetryMaxDelay = 5 * time.Second
)

// Prober reports interface capabilities.
type Prober interface {
	Probe(ctx context.Context, name string) (*hotspot.CapabilityReport, error)
	ProbeAll(ctx context.Context) ([]hotspot.CapabilityReport, error)
}

// AccessPoint is a running access point. TearDown releases everything it
// owns and is safe to call more than once.
type AccessPoint interface {
	ID() string
	Interface() string
	Subnet() netip.Prefix
	Gateway() netip.Addr
	LeaseFile() string
	HostapdPID() int
	// Exited delivers at most one error if a daemon dies before TearDown.
	Exited() <-chan error
	TearDown() error
}

// APSupervisor creates access points. A failed BringUp leaves nothing behind.
type APSupervisor interface {
	BringUp(ctx context.Context, plan apsvc.Plan) (AccessPoint, error)
}

// NATManager shares the uplink with the access point subnet.
type NATManager interface {
	Enable(ctx context.Context, uplink, ap string, subnet netip.Prefix) (*nat.RuleSet, error)
	Disable(rs *nat.RuleSet) error
}

// LinkMonitor reports the uplink state.
type LinkMonitor interface {
	Current(ctx context.Context, iface string) hotspot.UplinkStatus
	Watch(ctx context.Context, iface string) <-chan hotspot.UplinkStatus
}

// DeviceRegistry tracks access point clients.
type DeviceRegistry interface {
	Attach(s devices.Session)
	Detach(iface string)
	ListConnected(ctx context.Context, apIface string) ([]hotspot.ConnectedDevice, error)
}

// Observer receives every state transition. Notify is called from the
// engine loop and must not block.
type Observer interface {
	Notify(t hotspot.Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(hotspot.Transition)

// Notify implements Observer.
func (f ObserverFunc) Notify(t hotspot.Transition) { f(t) }

// Deps are the host collaborators the engine drives.
type Deps struct {
	Prober  Prober
	AP      APSupervisor
	NAT     NATManager
	Link    LinkMonitor
	Devices DeviceRegistry
}

// Options tunes an Engine. Zero values take defaults.
type Options struct {
	GracePeriod time.Duration

	// Access point addressing, passed through to apsvc.Plan. Subnet is the
	// preferred range; another is picked if it overlaps the uplink.
	Subnet         netip.Prefix
	PoolStart      int
	PoolEnd        int
	LeaseTime      time.Duration
	CountryCode    string
	StartupTimeout time.Duration

	// Backoff between NAT re-enable attempts during recovery.
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration

	// Interface is the uplink Status reports on before any session.
	Interface string

	Metrics   *metrics.Metrics
	Observers []Observer
}

func (o Options) withDefaults() Options {
	if o.GracePeriod <= 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	if !o.Subnet.IsValid() {
		o.Subnet = netip.MustParsePrefix(apsvc.DefaultSubnet)
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.RetryMaxDelay < o.RetryDelay {
		o.RetryMaxDelay = DefaultRetryMaxDelay
		if o.RetryMaxDelay < o.RetryDelay {
			o.RetryMaxDelay = o.RetryDelay
		}
	}
	return o
}

// Engine orchestrates one hotspot session at a time.
type Engine struct {
	deps Deps
	opts Options

	cmds    chan command
	results chan result
	events  chan event
	done    chan struct{}

	// owned by the Run goroutine
	state     hotspot.SessionState
	sess      *session
	errInfo   *hotspot.SessionInfo
	lastIface string
	op        *operation
	deferred  []event
}

// New returns an Engine. Call Run to start it.
func New(deps Deps, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		deps:      deps,
		opts:      opts,
		cmds:      make(chan command),
		results:   make(chan result, 1),
		events:    make(chan event, 32),
		done:      make(chan struct{}),
		state:     hotspot.SessionState{State: hotspot.StateIdle},
		lastIface: opts.Interface,
	}
}

// Run processes commands and events until ctx is cancelled. A session
// still active at that point is stopped before Run returns. Run must be
// called exactly once.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	e.opts.Metrics.SetState(string(e.state.State))
	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil
		case c := <-e.cmds:
			e.command(c)
		case r := <-e.results:
			e.handleResult(r)
		case ev := <-e.events:
			e.handleEvent(ev)
		}
	}
}

// Start validates cfg and runs a session. It returns once the hotspot is
// running or has failed; a failure leaves the engine in Error(reason).
//
// Error counts as Idle here: by the time it is entered every resource of
// the failed session has been released, so Start from Error begins a new
// session and clears the error. From any other state Start fails with
// util.ErrAlreadyActive.
func (e *Engine) Start(ctx context.Context, cfg hotspot.HotspotConfig) error {
	if cfg.Band == "" {
		cfg.Band = hotspot.Band24GHz
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	reply := make(chan error, 1)
	if err := e.send(ctx, command{kind: cmdStart, ctx: ctx, cfg: cfg, reply: reply}); err != nil {
		return err
	}
	return e.wait(ctx, reply)
}

// Stop ends the current session from any state and returns once the
// engine is Idle. A non-nil error reports cleanup that did not complete;
// the engine is Idle regardless.
func (e *Engine) Stop(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := e.send(ctx, command{kind: cmdStop, ctx: ctx, reply: reply}); err != nil {
		return err
	}
	return e.wait(ctx, reply)
}

// Status reports the session state, the uplink and the connected devices.
func (e *Engine) Status(ctx context.Context) (hotspot.Status, error) {
	reply := make(chan hotspot.Status, 1)
	if err := e.send(ctx, command{kind: cmdStatus, ctx: ctx, status: reply}); err != nil {
		return hotspot.Status{}, err
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return hotspot.Status{}, ctx.Err()
	}
}

// ProbeInterfaces reports the capabilities of every wireless interface.
// Probing has no side effects and may run alongside a session.
func (e *Engine) ProbeInterfaces(ctx context.Context) ([]hotspot.CapabilityReport, error) {
	reports, err := e.deps.Prober.ProbeAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: probe: %w", err)
	}
	return reports, nil
}

func (e *Engine) send(ctx context.Context, c command) error {
	select {
	case e.cmds <- c:
		return nil
	case <-e.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) wait(ctx context.Context, reply <-chan error) error {
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
