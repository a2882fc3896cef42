package pool

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/caddyserver/nbtls"
)

// Dialer is spec.md §6's rawConnect collaborator, made concrete: given a
// canonicalized authority and Options, it establishes a fresh plaintext
// Socket. SocketPool holds one Dialer and calls it only when its reuse scan
// finds nothing usable, playing the role the teacher's fastcgi.persistentDialer
// plays in front of its own basicDialer.
type Dialer interface {
	Dial(ctx context.Context, authority string, opts nbtls.Options) (nbtls.Socket, error)
}

// DefaultDialer implements Dialer over net.Dialer, supporting "host:port"
// (network "tcp") and "unix://path" authorities.
type DefaultDialer struct{}

func (DefaultDialer) Dial(ctx context.Context, authority string, opts nbtls.Options) (nbtls.Socket, error) {
	network, address := "tcp", authority
	if rest, ok := strings.CutPrefix(authority, "unix://"); ok {
		network, address = "unix", rest
	}

	d := &net.Dialer{}
	if bindto := opts.String("bindto", ""); bindto != "" && network == "tcp" {
		laddr, err := net.ResolveTCPAddr(network, net.JoinHostPort(bindto, "0"))
		if err != nil {
			return nil, fmt.Errorf("%w: resolving bindto %q: %v", nbtls.ErrConnectError, bindto, err)
		}
		d.LocalAddr = laddr
	}
	if timeoutMS := opts.Int("connect_timeout", 0); timeoutMS > 0 {
		d.Timeout = time.Duration(timeoutMS) * time.Millisecond
	}

	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", nbtls.ErrConnectError, err)
	}
	return nbtls.NewTCPSocket(conn, opts.String("bindto", "")), nil
}
