package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/davytheprogrammer/hotspot-manager/pkg/devices"
	"github.com/davytheprogrammer/hotspot-manager/pkg/hotspot"
	"github.com/davytheprogrammer/hotspot-manager/pkg/nat"
	"github.com/davytheprogrammer/hotspot-manager/pkg/util"
)

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdStatus
)

type command struct {
	kind   cmdKind
	ctx    context.Context
	cfg    hotspot.HotspotConfig
	reply  chan error
	status chan hotspot.Status
}

type eventKind int

const (
	evUplink eventKind = iota
	evGrace
	evExit
)

// event is tagged with the session it belongs to; grace expiries also
// carry the timer generation that armed them.
type event struct {
	kind    eventKind
	session string
	gen     int
	uplink  hotspot.UplinkStatus
	err     error
}

// session is everything the loop knows about the current hotspot.
type session struct {
	id      string
	cfg     hotspot.HotspotConfig
	info    hotspot.SessionInfo
	started time.Time

	ap     AccessPoint
	rules  *nat.RuleSet
	uplink hotspot.UplinkStatus

	unwatch       context.CancelFunc
	timerGen      int
	grace         *time.Timer
	graceDeadline time.Time

	starter  chan error
	stopping bool
	stoppers []chan error
	// failure is the reason a teardown in progress ends in Error.
	failure error
	// pauseErr is a failed NAT pause; stop reports it as partial teardown.
	pauseErr error
}

func (e *Engine) log() *logrus.Entry {
	if s := e.sess; s != nil {
		return util.WithSession(s.id, s.cfg.Interface)
	}
	return util.WithField("state", e.state.String())
}

func (e *Engine) command(c command) {
	switch c.kind {
	case cmdStart:
		e.start(c)
	case cmdStop:
		e.stop(c.reply)
	case cmdStatus:
		e.status(c)
	}
}

func (e *Engine) start(c command) {
	if s := e.sess; s != nil {
		c.reply <- fmt.Errorf("%w: session %s is %s", util.ErrAlreadyActive, s.id, e.state)
		return
	}
	cfg := c.cfg
	s := &session{
		id:      uuid.NewString(),
		cfg:     cfg,
		started: time.Now(),
		starter: c.reply,
	}
	s.info = hotspot.SessionInfo{
		ID:        s.id,
		Interface: cfg.Interface,
		Uplink:    cfg.UplinkInterface(),
		SSID:      cfg.SSID,
		Channel:   cfg.Channel,
		Band:      cfg.Band,
		StartedAt: s.started,
	}
	e.sess = s
	e.errInfo = nil
	e.lastIface = cfg.UplinkInterface()
	e.log().Infof("starting hotspot %+v", cfg.Redacted())
	e.transition(hotspot.SessionState{State: hotspot.StateProbing}, "start requested")

	e.launch(opProbe, context.Background(), func(ctx context.Context) result {
		return e.probe(ctx, cfg.Interface)
	})
}

func (e *Engine) stop(reply chan error) {
	s := e.sess
	if s == nil {
		if e.state.State == hotspot.StateError {
			e.transition(hotspot.SessionState{State: hotspot.StateStopping}, "stop requested")
			e.errInfo = nil
			e.transition(hotspot.SessionState{State: hotspot.StateIdle}, "error cleared")
		}
		reply <- nil
		return
	}
	s.stoppers = append(s.stoppers, reply)
	if s.stopping {
		return
	}
	s.stopping = true
	e.disarm(s)
	e.transition(hotspot.SessionState{State: hotspot.StateStopping}, "stop requested")
	if e.op != nil {
		if e.op.kind != opTeardown {
			// the operation rolls back at its next checkpoint
			e.op.cancel()
		}
		return
	}
	e.teardown(s)
}

func (e *Engine) status(c command) {
	st := hotspot.Status{Session: e.state, Devices: []hotspot.ConnectedDevice{}}
	var apIface string
	watching := false
	uplinkIface := e.lastIface
	if s := e.sess; s != nil {
		info := s.info
		st.Info = &info
		st.Uplink = s.uplink
		watching = s.unwatch != nil
		if s.ap != nil {
			apIface = s.ap.Interface()
		}
	} else if e.errInfo != nil {
		info := *e.errInfo
		st.Info = &info
	}

	// device sweeps and uplink queries block; answer off the loop
	go func() {
		if !watching && uplinkIface != "" {
			st.Uplink = e.deps.Link.Current(c.ctx, uplinkIface)
		}
		if apIface != "" {
			devs, err := e.deps.Devices.ListConnected(c.ctx, apIface)
			if err != nil {
				util.WithInterface(apIface).Warnf("list devices: %v", err)
			} else {
				st.Devices = devs
			}
		}
		c.status <- st
	}()
}

func (e *Engine) handleEvent(ev event) {
	s := e.sess
	if s == nil || ev.session != s.id {
		return
	}
	if e.op != nil {
		e.deferred = append(e.deferred, ev)
		return
	}
	if s.stopping || s.failure != nil {
		return
	}
	switch ev.kind {
	case evUplink:
		e.uplinkChanged(s, ev.uplink)
	case evGrace:
		if ev.gen != s.timerGen || e.state.State != hotspot.StateRecovering {
			return
		}
		e.opts.Metrics.Recovery("expired")
		e.fail(s, fmt.Errorf("%w: no connection on %s within %s",
			util.ErrUplinkLost, s.cfg.UplinkInterface(), e.opts.GracePeriod))
	case evExit:
		e.fail(s, ev.err)
	}
}

func (e *Engine) uplinkChanged(s *session, up hotspot.UplinkStatus) {
	prev := s.uplink
	s.uplink = up
	e.opts.Metrics.Uplink(up.Connected)

	switch e.state.State {
	case hotspot.StateRunning:
		if up.Connected {
			if up != prev {
				e.log().Infof("uplink now %s", up)
			}
			return
		}
		e.transition(hotspot.SessionState{State: hotspot.StateRecovering},
			fmt.Sprintf("uplink lost, waiting %s", e.opts.GracePeriod))
		e.arm(s)
		rules := s.rules
		e.launch(opPause, context.Background(), func(ctx context.Context) result {
			return result{err: e.pause(rules)}
		})
	case hotspot.StateRecovering:
		if !up.Connected {
			return
		}
		e.transition(hotspot.SessionState{State: hotspot.StateStarting}, "uplink restored, re-enabling sharing")
		uplink, apIface, subnet := s.cfg.UplinkInterface(), s.ap.Interface(), s.ap.Subnet()
		stale := s.rules
		ctx, cancel := context.WithDeadline(context.Background(), s.graceDeadline)
		e.launch(opRecover, ctx, func(ctx context.Context) result {
			defer cancel()
			return e.recoverNAT(ctx, stale, uplink, apIface, subnet)
		})
	}
}

// fail tears the session down and ends in Error(reason of err).
func (e *Engine) fail(s *session, err error) {
	s.failure = err
	e.disarm(s)
	e.log().Warnf("session failed: %v", err)
	e.teardown(s)
}

func (e *Engine) handleResult(r result) {
	if e.op != nil {
		e.op.cancel()
		e.op = nil
	}
	s := e.sess
	if s == nil || r.session != s.id {
		// cannot happen while every operation belongs to the session
		if err := e.release(r.ap, r.rules); err != nil {
			util.Warnf("release orphaned resources: %v", err)
		}
		return
	}

	switch r.kind {
	case opProbe:
		e.probed(s, r)
	case opBringUp:
		e.broughtUp(s, r)
	case opPause:
		if r.err != nil {
			// s.rules keeps what could not be removed for the next attempt
			s.pauseErr = r.err
		} else {
			s.rules = nil
		}
		if s.stopping {
			e.teardown(s)
		}
	case opRecover:
		e.recovered(s, r)
	case opTeardown:
		e.tornDown(s, r)
	}
	e.replay()
}

func (e *Engine) probed(s *session, r result) {
	switch {
	case s.stopping:
		e.teardown(s)
	case r.err != nil:
		e.finish(s, errorState(r.err), r.err.Error(), r.err, nil)
	default:
		if r.report != nil && len(r.report.Warnings) > 0 {
			e.log().Infof("capability warnings: %s", strings.Join(r.report.Warnings, "; "))
		}
		e.transition(hotspot.SessionState{State: hotspot.StateStarting}, "capability ok")
		id, cfg := s.id, s.cfg
		e.launch(opBringUp, context.Background(), func(ctx context.Context) result {
			return e.bringUp(ctx, id, cfg)
		})
	}
}

func (e *Engine) broughtUp(s *session, r result) {
	if r.err == nil {
		s.ap, s.rules, s.uplink = r.ap, r.rules, r.uplink
		s.info.APInterface = r.ap.Interface()
		s.info.Subnet = r.ap.Subnet().String()
		s.info.Gateway = r.ap.Gateway().String()
	}
	switch {
	case s.stopping:
		e.teardown(s)
	case r.err != nil:
		e.finish(s, errorState(r.err), r.err.Error(), r.err, nil)
	default:
		e.deps.Devices.Attach(devices.Session{
			Interface: s.ap.Interface(),
			Subnet:    s.ap.Subnet(),
			Gateway:   s.ap.Gateway(),
			LeaseFile: s.ap.LeaseFile(),
		})
		e.watch(s)
		e.opts.Metrics.Uplink(s.uplink.Connected)
		e.opts.Metrics.Started(time.Since(s.started))
		e.log().WithField("pid", s.ap.HostapdPID()).Infof("hotspot %q up on %s", s.cfg.SSID, s.ap.Interface())
		e.transition(hotspot.SessionState{State: hotspot.StateRunning},
			fmt.Sprintf("sharing %s on %s", s.cfg.UplinkInterface(), s.ap.Interface()))
		s.starter <- nil
		s.starter = nil
	}
}

func (e *Engine) recovered(s *session, r result) {
	// on failure r.rules holds what is left of a pause that never completed
	s.rules = r.rules
	switch {
	case s.stopping:
		e.teardown(s)
	case r.err != nil:
		e.opts.Metrics.Recovery("failed")
		e.fail(s, fmt.Errorf("%w: re-enable sharing: %v", util.ErrUplinkLost, r.err))
	default:
		e.disarm(s)
		e.opts.Metrics.Recovery("ok")
		e.transition(hotspot.SessionState{State: hotspot.StateRunning}, "sharing restored")
	}
}

func (e *Engine) tornDown(s *session, r result) {
	s.ap, s.rules = nil, nil
	cleanupErr := util.JoinTeardown(s.pauseErr, r.err)
	if s.stopping || s.failure == nil {
		e.finish(s, hotspot.SessionState{State: hotspot.StateIdle}, "stopped",
			fmt.Errorf("%w: stopped before the hotspot came up", util.ErrSessionCancelled), cleanupErr)
		return
	}
	if cleanupErr != nil {
		e.log().Warnf("cleanup after failure: %v", cleanupErr)
	}
	e.finish(s, errorState(s.failure), s.failure.Error(), s.failure, nil)
}

// finish ends the session: it answers every waiter and clears the loop
// state. Timers and watchers still in flight are dropped as stale.
func (e *Engine) finish(s *session, to hotspot.SessionState, msg string, startErr, stopErr error) {
	if s.unwatch != nil {
		s.unwatch()
		s.unwatch = nil
	}
	e.disarm(s)
	s.info.Message = msg
	e.transition(to, msg)

	if s.starter != nil {
		s.starter <- startErr
		s.starter = nil
	}
	for _, reply := range s.stoppers {
		reply <- stopErr
	}
	if to.State == hotspot.StateError {
		info := s.info
		e.errInfo = &info
	}
	e.sess = nil
	e.deferred = nil
}

// replay applies events queued while an operation was in flight, stopping
// if one of them starts another operation.
func (e *Engine) replay() {
	for e.op == nil && len(e.deferred) > 0 {
		ev := e.deferred[0]
		e.deferred = e.deferred[1:]
		e.handleEvent(ev)
	}
}

func (e *Engine) transition(to hotspot.SessionState, msg string) {
	from := e.state
	e.state = to
	t := hotspot.Transition{From: from, To: to, Message: msg, At: time.Now()}
	if e.sess != nil {
		t.SessionID = e.sess.id
	}
	e.log().WithField("state", to.String()).Infof("%s -> %s: %s", from, to, msg)
	e.opts.Metrics.Transition(string(from.State), string(to.State))
	for _, o := range e.opts.Observers {
		o.Notify(t)
	}
}

// arm starts the grace timer for the current outage.
func (e *Engine) arm(s *session) {
	e.disarm(s)
	gen, id := s.timerGen, s.id
	s.graceDeadline = time.Now().Add(e.opts.GracePeriod)
	s.grace = time.AfterFunc(e.opts.GracePeriod, func() {
		e.post(context.Background(), event{kind: evGrace, session: id, gen: gen})
	})
}

// disarm invalidates any pending grace expiry, including one already queued.
func (e *Engine) disarm(s *session) {
	s.timerGen++
	if s.grace != nil {
		s.grace.Stop()
		s.grace = nil
	}
}

// watch forwards uplink changes and daemon exits into the loop until the
// session ends.
func (e *Engine) watch(s *session) {
	ctx, cancel := context.WithCancel(context.Background())
	s.unwatch = cancel
	id := s.id
	updates := e.deps.Link.Watch(ctx, s.cfg.UplinkInterface())
	exited := s.ap.Exited()

	go func() {
		for up := range updates {
			e.post(ctx, event{kind: evUplink, session: id, uplink: up})
		}
	}()
	go func() {
		select {
		case err, ok := <-exited:
			if ok && err != nil {
				e.post(ctx, event{kind: evExit, session: id, err: err})
			}
		case <-ctx.Done():
		}
	}()
}

func (e *Engine) post(ctx context.Context, ev event) {
	select {
	case e.events <- ev:
	case <-ctx.Done():
	case <-e.done:
	}
}

// shutdown stops an active session and waits for the teardown to finish.
func (e *Engine) shutdown() {
	if e.sess == nil {
		return
	}
	e.log().Info("shutting down, stopping hotspot")
	reply := make(chan error, 1)
	e.stop(reply)
	for e.sess != nil {
		select {
		case r := <-e.results:
			e.handleResult(r)
		case ev := <-e.events:
			e.handleEvent(ev)
		}
	}
	if err := <-reply; err != nil {
		util.Warnf("shutdown: %v", err)
	}
}

func errorState(err error) hotspot.SessionState {
	return hotspot.SessionState{State: hotspot.StateError, Reason: util.ReasonOf(err)}
}
