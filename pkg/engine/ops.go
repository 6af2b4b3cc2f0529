package engine

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/davytheprogrammer/hotspot-manager/pkg/apsvc"
	"github.com/davytheprogrammer/hotspot-manager/pkg/hotspot"
	"github.com/davytheprogrammer/hotspot-manager/pkg/nat"
	"github.com/davytheprogrammer/hotspot-manager/pkg/util"
)

type opKind string

const (
	opProbe    opKind = "probe"
	opBringUp  opKind = "bring-up"
	opPause    opKind = "pause"
	opRecover  opKind = "recover"
	opTeardown opKind = "teardown"
)

// operation is the single blocking task in flight.
type operation struct {
	kind    opKind
	session string
	cancel  context.CancelFunc
}

type result struct {
	kind    opKind
	session string

	report *hotspot.CapabilityReport
	ap     AccessPoint
	rules  *nat.RuleSet
	uplink hotspot.UplinkStatus
	err    error
}

// launch runs fn off the loop and posts its result back. The loop does not
// start another operation until the result has been handled.
func (e *Engine) launch(kind opKind, parent context.Context, fn func(ctx context.Context) result) {
	ctx, cancel := context.WithCancel(parent)
	id := e.sess.id
	e.op = &operation{kind: kind, session: id, cancel: cancel}
	e.log().Debugf("operation %s started", kind)
	go func() {
		r := fn(ctx)
		r.kind, r.session = kind, id
		e.results <- r
	}()
}

func (e *Engine) probe(ctx context.Context, iface string) result {
	report, err := e.deps.Prober.Probe(ctx, iface)
	if err != nil {
		return result{err: err}
	}
	if !report.SupportsConcurrentAPManaged {
		msg := iface + " has no interface combination with managed and AP"
		if len(report.Warnings) > 0 {
			msg = strings.Join(report.Warnings, "; ")
		}
		return result{report: report, err: fmt.Errorf("%w: %s", util.ErrUnsupported, msg)}
	}
	return result{report: report}
}

// bringUp creates the access point and enables sharing. Anything it
// created is released again before a failure is returned.
func (e *Engine) bringUp(ctx context.Context, id string, cfg hotspot.HotspotConfig) result {
	uplink := cfg.UplinkInterface()
	up := e.deps.Link.Current(ctx, uplink)
	if !up.Connected {
		return result{err: util.NewStepError("uplink", fmt.Errorf("%s is not connected", uplink))}
	}

	subnet := e.opts.Subnet
	if p, ok := up.Prefix(); ok {
		picked, err := util.PickSubnet(subnet, p)
		if err != nil {
			return result{err: util.NewStepError("subnet", err)}
		}
		if picked != subnet {
			util.WithSession(id, cfg.Interface).Infof("%s overlaps uplink %s, using %s", subnet, p, picked)
		}
		subnet = picked
	}

	ap, err := e.deps.AP.BringUp(ctx, apsvc.Plan{
		ID:             id,
		Config:         cfg,
		Subnet:         subnet,
		PoolStart:      e.opts.PoolStart,
		PoolEnd:        e.opts.PoolEnd,
		LeaseTime:      e.opts.LeaseTime,
		CountryCode:    e.opts.CountryCode,
		StartupTimeout: e.opts.StartupTimeout,
	})
	if err != nil {
		return result{err: err}
	}

	rules, err := e.deps.NAT.Enable(ctx, uplink, ap.Interface(), ap.Subnet())
	if err != nil {
		e.rollback(id, ap, nil)
		return result{err: util.NewStepError("nat", err)}
	}

	if err := ctx.Err(); err != nil {
		e.rollback(id, ap, rules)
		return result{err: util.NewStepError("nat", fmt.Errorf("%w: %w", util.ErrSessionCancelled, err))}
	}

	// moving the radio to the AP channel can drop the client link
	now := e.deps.Link.Current(ctx, uplink)
	if !now.Connected {
		e.rollback(id, ap, rules)
		return result{err: util.NewStepError("uplink",
			fmt.Errorf("%s lost its connection while the access point came up", uplink))}
	}
	return result{ap: ap, rules: rules, uplink: now}
}

func (e *Engine) rollback(id string, ap AccessPoint, rules *nat.RuleSet) {
	if err := e.release(ap, rules); err != nil {
		util.WithField("session", id).Errorf("rollback incomplete: %v", err)
	}
}

// pause removes the NAT rules while the uplink is down. The access point
// keeps running so clients stay associated.
func (e *Engine) pause(rules *nat.RuleSet) error {
	if err := e.deps.NAT.Disable(rules); err != nil {
		e.opts.Metrics.TeardownError("nat")
		util.Warnf("pause sharing: %v", err)
		return err
	}
	return nil
}

// recoverNAT re-enables sharing with backoff until ctx, bounded by the
// grace deadline, expires. Rules left behind by a failed pause are removed
// first so they are never installed twice. If they cannot be removed they
// are returned with the error.
func (e *Engine) recoverNAT(ctx context.Context, stale *nat.RuleSet, uplink, apIface string, subnet netip.Prefix) result {
	policy := retrypolicy.NewBuilder[*nat.RuleSet]().
		WithBackoff(e.opts.RetryDelay, e.opts.RetryMaxDelay).
		WithMaxRetries(-1).
		Build()

	attempt := 0
	rules, err := failsafe.With(policy).WithContext(ctx).Get(func() (*nat.RuleSet, error) {
		attempt++
		if stale != nil {
			if err := e.deps.NAT.Disable(stale); err != nil {
				util.WithInterface(apIface).Warnf("remove leftover rules, attempt %d: %v", attempt, err)
				return nil, err
			}
			stale = nil
		}
		rs, err := e.deps.NAT.Enable(ctx, uplink, apIface, subnet)
		if err != nil {
			util.WithInterface(apIface).Warnf("re-enable sharing, attempt %d: %v", attempt, err)
		}
		return rs, err
	})
	if err != nil {
		return result{rules: stale, err: err}
	}
	return result{rules: rules}
}

// teardown releases everything the session holds.
func (e *Engine) teardown(s *session) {
	e.disarm(s)
	if s.unwatch != nil {
		s.unwatch()
		s.unwatch = nil
	}
	ap, rules := s.ap, s.rules
	e.launch(opTeardown, context.Background(), func(context.Context) result {
		return result{err: e.release(ap, rules)}
	})
}

// release disables rules and tears ap down. Every step runs even if an
// earlier one fails.
func (e *Engine) release(ap AccessPoint, rules *nat.RuleSet) error {
	var errs []error
	if rules != nil {
		if err := e.deps.NAT.Disable(rules); err != nil {
			e.opts.Metrics.TeardownError("nat")
			errs = append(errs, err)
		}
	}
	if ap != nil {
		e.deps.Devices.Detach(ap.Interface())
		if err := ap.TearDown(); err != nil {
			e.opts.Metrics.TeardownError("ap")
			errs = append(errs, err)
		}
	}
	return util.JoinTeardown(errs...)
}
