package auth

import (
	"context"
	"net"
	"os/user"
	"strconv"
)

// Peer is the local process on the other end of the control socket.
type Peer struct {
	UID      uint32
	PID      int32
	Username string
}

type peerKey struct{}

// ConnContext is an http.Server ConnContext hook recording the peer
// credentials of Unix socket connections. Other connections are left
// unidentified.
func ConnContext(ctx context.Context, c net.Conn) context.Context {
	uc, ok := c.(*net.UnixConn)
	if !ok {
		return ctx
	}
	p, err := peerCred(uc)
	if err != nil {
		return ctx
	}
	if u, err := user.LookupId(strconv.FormatUint(uint64(p.UID), 10)); err == nil {
		p.Username = u.Username
	}
	return WithPeer(ctx, p)
}

// WithPeer returns ctx carrying p.
func WithPeer(ctx context.Context, p Peer) context.Context {
	return context.WithValue(ctx, peerKey{}, p)
}

// PeerFrom returns the peer recorded by ConnContext or WithPeer.
func PeerFrom(ctx context.Context) (Peer, bool) {
	p, ok := ctx.Value(peerKey{}).(Peer)
	return p, ok
}
