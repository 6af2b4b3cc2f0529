package apsvc

import (
	"fmt"
	"net/netip"
	"sync"

	"github.com/davytheprogrammer/hotspot-manager/pkg/host"
	"github.com/davytheprogrammer/hotspot-manager/pkg/util"
)

type undoStep struct {
	name string
	fn   func() error
}

// Handle owns the resources of one access point.
type Handle struct {
	id        string
	parent    string
	iface     string
	subnet    netip.Prefix
	gateway   netip.Addr
	dir       string
	leaseFile string

	hostapd host.Proc
	dnsmasq host.Proc

	mu       sync.Mutex
	undo     []undoStep
	torn     bool
	stopping chan struct{}
	exited   chan error
}

func newHandle(id, parent, iface string, subnet netip.Prefix) *Handle {
	return &Handle{
		id:       id,
		parent:   parent,
		iface:    iface,
		subnet:   subnet,
		gateway:  util.GatewayAddr(subnet),
		stopping: make(chan struct{}),
		exited:   make(chan error, 1),
	}
}

func (h *Handle) ID() string           { return h.id }
func (h *Handle) Parent() string       { return h.parent }
func (h *Handle) Interface() string    { return h.iface }
func (h *Handle) Subnet() netip.Prefix { return h.subnet }
func (h *Handle) Gateway() netip.Addr  { return h.gateway }
func (h *Handle) LeaseFile() string    { return h.leaseFile }
func (h *Handle) Dir() string          { return h.dir }
func (h *Handle) HostapdPID() int      { return h.hostapd.PID() }
func (h *Handle) Exited() <-chan error { return h.exited }

func (h *Handle) push(name string, fn func() error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.undo = append(h.undo, undoStep{name: name, fn: fn})
}

// rollback runs the undo stack in reverse order, continuing past failures.
func (h *Handle) rollback() error {
	h.mu.Lock()
	steps := h.undo
	h.undo = nil
	h.mu.Unlock()

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		if err := steps[i].fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", steps[i].name, err))
		}
	}
	return util.JoinTeardown(errs...)
}

// superviseExits reports the first daemon that exits before TearDown.
func (h *Handle) superviseExits() {
	go func() {
		var (
			name string
			proc host.Proc
		)
		select {
		case <-h.stopping:
			return
		case <-h.hostapd.Done():
			name, proc = "hostapd", h.hostapd
		case <-h.dnsmasq.Done():
			name, proc = "dnsmasq", h.dnsmasq
		}
		select {
		case <-h.stopping:
			return
		default:
		}
		err := fmt.Errorf("%w: %s (%v)", util.ErrDaemonExited, name, proc.Err())
		util.WithSession(h.id, h.iface).Warnf("%v; last output: %v", err, proc.Tail())
		h.exited <- err
	}()
}

// TearDown stops the daemons, deletes the virtual interface and removes
// the config directory. Every step runs even if an earlier one fails.
// Calls after the first return nil.
func (h *Handle) TearDown() error {
	h.mu.Lock()
	if h.torn {
		h.mu.Unlock()
		return nil
	}
	h.torn = true
	close(h.stopping)
	h.mu.Unlock()

	if err := h.rollback(); err != nil {
		util.WithSession(h.id, h.iface).Warnf("teardown incomplete: %v", err)
		return err
	}
	util.WithSession(h.id, h.iface).Info("access point torn down")
	return nil
}
