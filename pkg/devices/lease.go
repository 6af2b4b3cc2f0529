package devices

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Lease is one line of a dnsmasq lease file:
//
//	<expiry> <mac> <ip> <hostname|*> <client-id|*>
type Lease struct {
	Expiry   time.Time // zero for infinite leases
	MAC      string
	IP       string
	Hostname string
}

// ReadLeases parses the lease file at path. A missing file has no leases.
func ReadLeases(path string) ([]Lease, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	return parseLeases(f), nil
}

// parseLeases skips malformed lines and the "duid" header dnsmasq writes
// when DHCPv6 is enabled.
func parseLeases(r io.Reader) []Lease {
	var leases []Lease
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 || fields[0] == "duid" {
			continue
		}
		secs, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			continue
		}
		l := Lease{MAC: normalizeMAC(fields[1]), IP: fields[2]}
		if secs != 0 {
			l.Expiry = time.Unix(secs, 0)
		}
		if fields[3] != "*" {
			l.Hostname = fields[3]
		}
		leases = append(leases, l)
	}
	return leases
}

// Active reports whether the lease is unexpired at now.
func (l Lease) Active(now time.Time) bool {
	return l.Expiry.IsZero() || l.Expiry.After(now)
}

func normalizeMAC(mac string) string {
	return strings.ToLower(mac)
}
