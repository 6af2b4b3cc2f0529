// Package nat shares an uplink with the access point subnet through IPv4
// forwarding and masquerading.
//
// Rules are tracked per RuleSet and tagged with a comment naming it, so
// Disable removes exactly what Enable installed. Tables are never flushed.
package nat

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"sync"

	"github.com/coreos/go-iptables/iptables"
	"github.com/google/uuid"

	"github.com/davytheprogrammer/hotspot-manager/pkg/util"
)

const forwardKey = "net/ipv4/ip_forward"

// Tables is the subset of *iptables.IPTables the manager uses.
type Tables interface {
	Exists(table, chain string, rulespec ...string) (bool, error)
	Insert(table, chain string, pos int, rulespec ...string) error
	Append(table, chain string, rulespec ...string) error
	DeleteIfExists(table, chain string, rulespec ...string) error
}

// Rule is one installed iptables rule.
type Rule struct {
	Table  string
	Chain  string
	Spec   []string
	Insert bool
}

func (r Rule) String() string {
	return fmt.Sprintf("-t %s %s %s", r.Table, r.Chain, strings.Join(r.Spec, " "))
}

// RuleSet records what one Enable call changed.
type RuleSet struct {
	ID     string
	Uplink string
	AP     string
	Subnet netip.Prefix

	// Rules in installation order.
	Rules []Rule

	// PriorForward is the ip_forward value before Enable; ForwardChanged
	// is true when Enable had to change it.
	PriorForward   string
	ForwardChanged bool

	mu       sync.Mutex
	disabled bool
}

// Manager installs and removes rule sets.
type Manager struct {
	tables Tables
	sysctl Sysctl
}

// New returns a Manager.
func New(t Tables, s Sysctl) *Manager {
	return &Manager{tables: t, sysctl: s}
}

// NewSystem returns a Manager for the host's iptables and /proc/sys.
func NewSystem() (*Manager, error) {
	ipt, err := iptables.New()
	if err != nil {
		return nil, fmt.Errorf("nat: iptables: %w", err)
	}
	return New(ipt, ProcSysctl{}), nil
}

// plan returns the rules for sharing uplink with subnet on ap.
func plan(id, uplink, ap string, subnet netip.Prefix) []Rule {
	tag := []string{"-m", "comment", "--comment", "hotspot:" + id}
	src := subnet.String()
	with := func(spec ...string) []string {
		return append(spec, tag...)
	}
	return []Rule{
		{Table: "nat", Chain: "POSTROUTING", Spec: with("-s", src, "-o", uplink, "-j", "MASQUERADE")},
		{Table: "filter", Chain: "FORWARD", Insert: true, Spec: with("-i", ap, "-o", uplink, "-s", src, "-j", "ACCEPT")},
		{Table: "filter", Chain: "FORWARD", Insert: true, Spec: with("-i", uplink, "-o", ap, "-d", src,
			"-m", "conntrack", "--ctstate", "RELATED,ESTABLISHED", "-j", "ACCEPT")},
	}
}

// Enable turns on IPv4 forwarding and installs masquerade and forward
// rules. On failure everything already changed is undone.
func (m *Manager) Enable(ctx context.Context, uplink, ap string, subnet netip.Prefix) (*RuleSet, error) {
	rs := &RuleSet{ID: uuid.NewString()[:8], Uplink: uplink, AP: ap, Subnet: subnet.Masked()}
	log := util.WithInterface(ap).WithField("ruleset", rs.ID)

	prior, err := m.sysctl.Get(forwardKey)
	if err != nil {
		return nil, fmt.Errorf("nat: read ip_forward: %w", err)
	}
	rs.PriorForward = prior
	if prior != "1" {
		if err := m.sysctl.Set(forwardKey, "1"); err != nil {
			return nil, fmt.Errorf("nat: enable ip_forward: %w", err)
		}
		rs.ForwardChanged = true
	}

	for _, r := range plan(rs.ID, uplink, ap, rs.Subnet) {
		if err := ctx.Err(); err != nil {
			m.undo(rs)
			return nil, fmt.Errorf("nat: %w: %w", util.ErrSessionCancelled, err)
		}
		if r.Insert {
			err = m.tables.Insert(r.Table, r.Chain, 1, r.Spec...)
		} else {
			err = m.tables.Append(r.Table, r.Chain, r.Spec...)
		}
		if err != nil {
			if uerr := m.undo(rs); uerr != nil {
				log.Errorf("undo after failed enable: %v", uerr)
			}
			return nil, fmt.Errorf("nat: install %s: %w", r, err)
		}
		rs.Rules = append(rs.Rules, r)
	}

	log.Infof("sharing %s with %s (%d rules)", uplink, rs.Subnet, len(rs.Rules))
	return rs, nil
}

// Disable removes the rule set's rules in reverse order and restores
// ip_forward. It continues past individual failures and reports them as a
// util.TeardownError. A failed Disable may be called again to retry the
// rules that are left; after a complete one, Disable is a no-op.
func (m *Manager) Disable(rs *RuleSet) error {
	if rs == nil {
		return nil
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.disabled {
		return nil
	}

	err := m.undo(rs)
	log := util.WithInterface(rs.AP).WithField("ruleset", rs.ID)
	if err != nil {
		log.Warnf("disable incomplete, %d rules left: %v", len(rs.Rules), err)
		return err
	}
	rs.disabled = true
	log.Info("sharing disabled")
	return nil
}

// undo deletes the tracked rules and restores ip_forward. Rules that could
// not be deleted stay in rs.Rules so a later call can retry them.
func (m *Manager) undo(rs *RuleSet) error {
	var errs []error
	var left []Rule
	for i := len(rs.Rules) - 1; i >= 0; i-- {
		r := rs.Rules[i]
		if err := m.tables.DeleteIfExists(r.Table, r.Chain, r.Spec...); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", r, err))
			left = append([]Rule{r}, left...)
		}
	}
	rs.Rules = left
	if rs.ForwardChanged {
		if err := m.sysctl.Set(forwardKey, rs.PriorForward); err != nil {
			errs = append(errs, fmt.Errorf("restore ip_forward=%s: %w", rs.PriorForward, err))
		} else {
			rs.ForwardChanged = false
		}
	}
	return util.JoinTeardown(errs...)
}

// Installed reports which of the rule set's rules are present.
func (m *Manager) Installed(rs *RuleSet) (int, error) {
	n := 0
	for _, r := range rs.Rules {
		ok, err := m.tables.Exists(r.Table, r.Chain, r.Spec...)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}
