package nbtls

import (
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SocketID is the stable token both the crypto and pool packages use as a
// map key for a socket's entire lifetime.
type SocketID string

// NewSocketID returns a fresh, process-unique socket identity.
func NewSocketID() SocketID {
	return SocketID(uuid.NewString())
}

// Socket is the borrowed handle both subsystems operate on. It is owned
// externally (by whichever Dialer created it); the crypto and pool packages
// only ever hold a reference keyed by ID.
type Socket interface {
	// ID is a stable token for the lifetime of the socket.
	ID() SocketID

	// Underlying returns the raw connection beneath any TLS layer. The
	// crypto and pool packages never close it themselves except as
	// documented by Clear/eviction.
	Underlying() net.Conn

	// TLSConn returns the active TLS layer, or nil if the socket is
	// currently plaintext.
	TLSConn() *tls.Conn

	// SetTLSConn installs (or clears, with nil) the active TLS layer.
	SetTLSConn(*tls.Conn)

	// Dead reports whether the socket is already closed or has seen EOF.
	Dead() bool

	// Context is the free-form per-socket option mapping the TLS layer
	// was (or will be) configured from. Mutating the returned map mutates
	// the socket's stored context.
	Context() map[string]any

	// Bindto is the local bind address the socket was dialed from, or ""
	// if unspecified. Used by the pool's reuse scan.
	Bindto() string
}

// keepOpenConn wraps a net.Conn so that Close is a no-op. It is installed
// underneath a *tls.Conn so that tearing down the TLS layer (which sends
// close_notify and then closes its wrapped conn) leaves the real socket
// open for the caller, matching Encryptor.disable's "succeed, socket
// remains usable" contract. Adapted from the teacher's fakeCloseListener,
// which applies the identical idea (one logical owner can "close" a shared
// resource without affecting the real one) to listeners instead of conns.
type keepOpenConn struct {
	net.Conn
}

func (keepOpenConn) Close() error { return nil }

// TCPSocket is the default Socket implementation, wrapping a TCP or
// Unix-domain connection established by a pool.Dialer.
type TCPSocket struct {
	id     SocketID
	conn   net.Conn
	bindto string

	mu      sync.Mutex
	tlsConn *tls.Conn
	ctx     map[string]any

	peekedDead bool
}

// NewTCPSocket wraps conn as a Socket with a freshly generated identity.
func NewTCPSocket(conn net.Conn, bindto string) *TCPSocket {
	return &TCPSocket{
		id:     NewSocketID(),
		conn:   conn,
		bindto: bindto,
		ctx:    make(map[string]any),
	}
}

func (s *TCPSocket) ID() SocketID { return s.id }

func (s *TCPSocket) Underlying() net.Conn { return s.conn }

func (s *TCPSocket) TLSConn() *tls.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tlsConn
}

func (s *TCPSocket) SetTLSConn(c *tls.Conn) {
	s.mu.Lock()
	s.tlsConn = c
	s.mu.Unlock()
}

func (s *TCPSocket) Context() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *TCPSocket) Bindto() string { return s.bindto }

// WrapTLS returns a client-side *tls.Conn layered over a keepOpenConn-wrapped
// view of the socket's real connection, so a subsequent (*tls.Conn).Close
// cannot close the underlying socket. It does not install the conn on s;
// callers do that with SetTLSConn.
func (s *TCPSocket) WrapTLS(cfg *tls.Config) *tls.Conn {
	return tls.Client(keepOpenConn{s.conn}, cfg)
}

// Dead reports whether the socket is already closed, or, for an idle
// plaintext-or-TLS socket with no concurrent reader, whether a point-in-time
// probe read finds EOF or unsolicited bytes waiting. The probe sets an
// already-elapsed read deadline so a healthy idle socket (no data, no EOF)
// returns immediately without blocking; the deadline is always cleared
// before returning so a live socket is left exactly as it was found. This
// is the same technique net/http's idle-connection reaper uses to decide
// whether a pooled connection is safe to reuse.
func (s *TCPSocket) Dead() bool {
	s.mu.Lock()
	if s.peekedDead {
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()

	conn := s.conn
	if err := conn.SetReadDeadline(time.Now()); err != nil {
		// a closed connection no longer accepts deadlines
		s.MarkDead()
		return true
	}
	defer conn.SetReadDeadline(time.Time{})

	var buf [1]byte
	n, err := conn.Read(buf[:])
	switch {
	case n > 0:
		// unsolicited data on an idle socket: don't trust it for reuse.
		s.MarkDead()
		return true
	case err == nil:
		return false
	case isTimeout(err):
		return false
	default:
		s.MarkDead()
		return true
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// MarkDead records that the socket has been observed closed or at EOF.
func (s *TCPSocket) MarkDead() {
	s.mu.Lock()
	s.peekedDead = true
	s.mu.Unlock()
}
