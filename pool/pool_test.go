package pool

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/caddyserver/nbtls"
)

// fakeDialer hands out net.Pipe-backed sockets without touching the
// network, so pool tests are deterministic and fast.
type fakeDialer struct {
	mu      sync.Mutex
	dials   int
	failNext bool
}

func (d *fakeDialer) Dial(_ context.Context, authority string, opts nbtls.Options) (nbtls.Socket, error) {
	d.mu.Lock()
	d.dials++
	fail := d.failNext
	d.failNext = false
	d.mu.Unlock()

	if fail {
		return nil, errors.New("dial refused")
	}
	_, client := net.Pipe() // server side is left open; nothing reads/writes it in these tests
	return nbtls.NewTCPSocket(client, opts.String("bindto", "")), nil
}

func newTestPool(dialer Dialer) (*SocketPool, *nbtls.FakeReactor) {
	r := nbtls.NewFakeReactor()
	p := New(Config{
		Reactor:  r,
		Dialer:   dialer,
		Defaults: nbtls.Options{"host_connection_limit": 2, "idle_timeout": 1000},
	})
	return p, r
}

func TestCheckoutDialsFreshSocketWhenPoolEmpty(t *testing.T) {
	p, _ := newTestPool(&fakeDialer{})

	sock, err := p.Checkout(context.Background(), "example.com:443", nil).Wait(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sock)
}

func TestCheckoutReusesCheckedInSocket(t *testing.T) {
	dialer := &fakeDialer{}
	p, _ := newTestPool(dialer)

	sock, err := p.Checkout(context.Background(), "example.com:443", nil).Wait(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Checkin(context.Background(), sock.ID(), nil))

	sock2, err := p.Checkout(context.Background(), "example.com:443", nil).Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, sock.ID(), sock2.ID())

	dialer.mu.Lock()
	defer dialer.mu.Unlock()
	require.Equal(t, 1, dialer.dials, "second checkout must reuse, not redial")
}

func TestCheckoutQueuesFIFOAtCapacity(t *testing.T) {
	dialer := &fakeDialer{}
	p, _ := newTestPool(dialer) // limit is 2

	s1, err := p.Checkout(context.Background(), "example.com:443", nil).Wait(context.Background())
	require.NoError(t, err)
	s2, err := p.Checkout(context.Background(), "example.com:443", nil).Wait(context.Background())
	require.NoError(t, err)

	// pool is at capacity (both in use): a third checkout must queue.
	thirdPromise := p.Checkout(context.Background(), "example.com:443", nil)

	done := make(chan nbtls.Socket, 1)
	go func() {
		sock, err := thirdPromise.Wait(context.Background())
		require.NoError(t, err)
		done <- sock
	}()

	select {
	case <-done:
		t.Fatal("third checkout resolved before any capacity freed")
	default:
	}

	require.NoError(t, p.Checkin(context.Background(), s1.ID(), nil))

	third := <-done
	require.Equal(t, s1.ID(), third.ID(), "the queued waiter must get the freed slot")
	_ = s2
}

func TestCheckinUnknownSocketReturnsError(t *testing.T) {
	p, _ := newTestPool(&fakeDialer{})
	err := p.Checkin(context.Background(), nbtls.NewSocketID(), nil)
	require.ErrorIs(t, err, nbtls.ErrUnknownSocket)
}

func TestClearForgetsSocket(t *testing.T) {
	dialer := &fakeDialer{}
	p, _ := newTestPool(dialer)

	sock, err := p.Checkout(context.Background(), "example.com:443", nil).Wait(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Clear(sock.ID()))
	err = p.Checkin(context.Background(), sock.ID(), nil)
	require.ErrorIs(t, err, nbtls.ErrUnknownSocket, "a cleared socket is no longer known to the pool")
}

func TestCheckoutSurfacesDialError(t *testing.T) {
	dialer := &fakeDialer{failNext: true}
	p, _ := newTestPool(dialer)

	_, err := p.Checkout(context.Background(), "example.com:443", nil).Wait(context.Background())
	require.Error(t, err)
}

func TestCheckoutBypassesLimitWhenRebindNeeded(t *testing.T) {
	dialer := &fakeDialer{}
	r := nbtls.NewFakeReactor()
	p := New(Config{
		Reactor:  r,
		Dialer:   dialer,
		Defaults: nbtls.Options{"host_connection_limit": 1, "idle_timeout": 1000},
	})

	s1, err := p.Checkout(context.Background(), "example.com:443", nbtls.Options{"bindto": "10.0.0.1"}).Wait(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Checkin(context.Background(), s1.ID(), nil))

	// the pool is at its limit of 1 with s1 sitting idle under a different
	// bindto: a request for a different bindto must not evict s1 (another
	// caller with bindto 10.0.0.1 could still reuse it) and must bypass the
	// limit rather than queue forever.
	s2, err := p.Checkout(context.Background(), "example.com:443", nbtls.Options{"bindto": "10.0.0.2"}).Wait(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, s1.ID(), s2.ID())

	dialer.mu.Lock()
	require.Equal(t, 2, dialer.dials)
	dialer.mu.Unlock()

	s3, err := p.Checkout(context.Background(), "example.com:443", nbtls.Options{"bindto": "10.0.0.1"}).Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, s1.ID(), s3.ID(), "s1 must still be pooled and reusable for its own bindto")
}
