package link

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/davytheprogrammer/hotspot-manager/internal/testutil"
	"github.com/davytheprogrammer/hotspot-manager/pkg/hotspot"
)

// scriptQuerier returns the scripted results in order, repeating the last.
type scriptQuerier struct {
	mu      sync.Mutex
	results []result
	calls   int
}

type result struct {
	st  hotspot.UplinkStatus
	err error
}

func (q *scriptQuerier) Query(ctx context.Context, iface string) (hotspot.UplinkStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.calls
	if i >= len(q.results) {
		i = len(q.results) - 1
	}
	q.calls++
	return q.results[i].st, q.results[i].err
}

func collect(t *testing.T, ch <-chan hotspot.UplinkStatus, n int) []hotspot.UplinkStatus {
	t.Helper()
	var got []hotspot.UplinkStatus
	timeout := time.After(5 * time.Second)
	for len(got) < n {
		select {
		case st, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, st)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events: %v", len(got), n, got)
		}
	}
	return got
}

func TestWatchCoalescesAndOrders(t *testing.T) {
	home := hotspot.Connected("Home", "192.168.1.23/24")
	q := &scriptQuerier{results: []result{
		{st: home},
		{st: home},
		{st: hotspot.Disconnected},
		{st: hotspot.Disconnected},
		{err: errors.New("nmcli: not running")},
		{st: home},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := New(q, WithInterval(5*time.Millisecond)).Watch(ctx, "wlan0")

	got := collect(t, ch, 3)
	want := []hotspot.UplinkStatus{home, hotspot.Disconnected, home}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestWatchFirstValueAlwaysEmitted(t *testing.T) {
	q := &scriptQuerier{results: []result{{st: hotspot.Disconnected}}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := collect(t, New(q, WithInterval(time.Hour)).Watch(ctx, "wlan0"), 1)
	if got[0] != hotspot.Disconnected {
		t.Errorf("first event = %v, want disconnected", got[0])
	}
}

func TestWatchCancelClosesChannel(t *testing.T) {
	q := &scriptQuerier{results: []result{{st: hotspot.Connected("Home", "10.0.0.2/24")}}}
	ctx, cancel := context.WithCancel(context.Background())
	ch := New(q, WithInterval(time.Millisecond)).Watch(ctx, "wlan0")
	collect(t, ch, 1)
	cancel()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
			t.Fatal("no further changes expected after cancel")
		case <-deadline:
			t.Fatal("channel not closed after cancel")
		}
	}
}

type chanNotifier struct{ ch chan struct{} }

func (n chanNotifier) Subscribe(context.Context, string) (<-chan struct{}, error) {
	return n.ch, nil
}

func TestWatchNotifierTriggersPoll(t *testing.T) {
	q := &scriptQuerier{results: []result{
		{st: hotspot.Connected("Home", "10.0.0.2/24")},
		{st: hotspot.Disconnected},
	}}
	n := chanNotifier{ch: make(chan struct{}, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := New(q, WithInterval(time.Hour), WithNotifier(n)).Watch(ctx, "wlan0")

	collect(t, ch, 1)
	n.ch <- struct{}{}
	got := collect(t, ch, 1)
	if got[0] != hotspot.Disconnected {
		t.Errorf("event after notification = %v, want disconnected", got[0])
	}
}

func TestCurrentTreatsErrorsAsDisconnected(t *testing.T) {
	q := &scriptQuerier{results: []result{{st: hotspot.Connected("x", "y"), err: errors.New("boom")}}}
	if st := New(q).Current(context.Background(), "wlan0"); st.Connected {
		t.Errorf("Current() = %v, want disconnected on error", st)
	}
}

func TestNMQuerier(t *testing.T) {
	tests := []struct {
		name   string
		nmcli  string
		iwLink string
		want   hotspot.UplinkStatus
	}{
		{
			name:   "connected",
			nmcli:  "GENERAL.STATE:100 (connected)\nIP4.ADDRESS[1]:192.168.1.23/24\nIP4.ADDRESS[2]:192.168.1.99/24\n",
			iwLink: "Connected to 11:22:33:44:55:66 (on wlan0)\n\tSSID: HomeNet\n\tfreq: 2437\n",
			want:   hotspot.Connected("HomeNet", "192.168.1.23/24"),
		},
		{
			name:  "activating",
			nmcli: "GENERAL.STATE:70 (connecting (getting IP configuration))\n",
			want:  hotspot.Disconnected,
		},
		{
			name:   "nm says connected but radio does not",
			nmcli:  "GENERAL.STATE:100 (connected)\nIP4.ADDRESS[1]:192.168.1.23/24\n",
			iwLink: "Not connected.\n",
			want:   hotspot.Disconnected,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testutil.NewFakeRunner().
				On("nmcli -t -f GENERAL.STATE,IP4.ADDRESS device show wlan0", tt.nmcli).
				On("iw dev wlan0 link", tt.iwLink)
			got, err := NMQuerier{Runner: r}.Query(context.Background(), "wlan0")
			if err != nil {
				t.Fatalf("Query() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Query() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNMQuerierCommandFailure(t *testing.T) {
	r := testutil.NewFakeRunner().
		OnError("nmcli -t -f GENERAL.STATE,IP4.ADDRESS device show wlan0", errors.New("Error: Device 'wlan0' not found."))
	if _, err := (NMQuerier{Runner: r}).Query(context.Background(), "wlan0"); err == nil {
		t.Error("Query() should fail when nmcli fails")
	}
}
