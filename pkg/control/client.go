package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/davytheprogrammer/hotspot-manager/pkg/audit"
	"github.com/davytheprogrammer/hotspot-manager/pkg/hotspot"
	"github.com/davytheprogrammer/hotspot-manager/pkg/util"
	"github.com/davytheprogrammer/hotspot-manager/pkg/version"
)

// Client talks to hotspotd over its control socket. Errors returned by
// the daemon unwrap to the util sentinel named by their reason code.
type Client struct {
	http   *http.Client
	base   string
	socket string
}

var _ Service = (*Client)(nil)

// NewClient creates a client for the daemon listening on socketPath.
func NewClient(socketPath string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
	return &Client{http: &http.Client{Transport: transport}, base: "http://hotspotd", socket: socketPath}
}

// newClientFor targets an HTTP base URL directly.
func newClientFor(base string, hc *http.Client) *Client {
	return &Client{http: hc, base: base, socket: base}
}

// Status returns the daemon's session status.
func (c *Client) Status(ctx context.Context) (hotspot.Status, error) {
	var st hotspot.Status
	err := c.do(ctx, http.MethodGet, "/v1/status", nil, &st)
	return st, err
}

// ProbeInterfaces returns a capability report for every wireless interface.
func (c *Client) ProbeInterfaces(ctx context.Context) ([]hotspot.CapabilityReport, error) {
	var reports []hotspot.CapabilityReport
	err := c.do(ctx, http.MethodGet, "/v1/interfaces", nil, &reports)
	return reports, err
}

// Start asks the daemon to bring up a hotspot and waits until it is
// running or has failed.
func (c *Client) Start(ctx context.Context, cfg hotspot.HotspotConfig) error {
	return c.do(ctx, http.MethodPost, "/v1/start", cfg, nil)
}

// Stop tears down the running hotspot.
func (c *Client) Stop(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/stop", nil, nil)
}

// HistoryQuery selects session history entries. Since is relative to now.
type HistoryQuery struct {
	SessionID   string
	Operation   string
	FailureOnly bool
	Since       time.Duration
	Limit       int
}

// History returns recorded session events, oldest first.
func (c *Client) History(ctx context.Context, q HistoryQuery) ([]*audit.Event, error) {
	v := url.Values{}
	if q.SessionID != "" {
		v.Set("session", q.SessionID)
	}
	if q.Operation != "" {
		v.Set("operation", q.Operation)
	}
	if q.FailureOnly {
		v.Set("failures", "true")
	}
	if q.Since > 0 {
		v.Set("since", q.Since.String())
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	path := "/v1/history"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var events []*audit.Event
	err := c.do(ctx, http.MethodGet, path, nil, &events)
	return events, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "hotspot/"+version.Version)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("hotspotd not reachable at %s: %w", c.socket, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Code == "" {
		return &util.CodedError{Reason: util.ReasonInternal, Message: fmt.Sprintf("hotspotd: %s", resp.Status)}
	}
	if er.Code == util.ReasonInvalidConfig && len(er.Details) > 0 {
		return util.NewValidationError(er.Details...)
	}
	return &util.CodedError{Reason: er.Code, Message: er.Error}
}
