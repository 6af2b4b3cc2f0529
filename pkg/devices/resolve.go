package devices

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Resolver finds the hostname for an address by asking server.
type Resolver interface {
	LookupAddr(ctx context.Context, ip, server string) (string, error)
}

// DNSResolver sends PTR queries over UDP.
type DNSResolver struct {
	Timeout time.Duration
	// Port overrides the DNS port (53).
	Port string
}

// LookupAddr implements Resolver. An empty name with a nil error means the
// server has no PTR record.
func (r DNSResolver) LookupAddr(ctx context.Context, ip, server string) (string, error) {
	rev, err := dns.ReverseAddr(ip)
	if err != nil {
		return "", err
	}
	m := new(dns.Msg)
	m.SetQuestion(rev, dns.TypePTR)
	m.RecursionDesired = true

	timeout := r.Timeout
	if timeout == 0 {
		timeout = 500 * time.Millisecond
	}
	port := r.Port
	if port == "" {
		port = "53"
	}
	c := &dns.Client{Net: "udp", Timeout: timeout}
	resp, _, err := c.ExchangeContext(ctx, m, net.JoinHostPort(server, port))
	if err != nil {
		return "", fmt.Errorf("devices: PTR %s: %w", ip, err)
	}
	if resp.Rcode == dns.RcodeNameError {
		return "", nil
	}
	if resp.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("devices: PTR %s: %s", ip, dns.RcodeToString[resp.Rcode])
	}
	for _, rr := range resp.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, "."), nil
		}
	}
	return "", nil
}
