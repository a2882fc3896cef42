package crypto

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/caddyserver/nbtls"
)

// Op distinguishes which direction a HandshakeRecord is driving, the
// "tagged variant {Enable, Disable}" Design Note §9 calls for.
type Op int

const (
	OpEnable Op = iota
	OpDisable
)

func (o Op) String() string {
	if o == OpDisable {
		return "disable"
	}
	return "enable"
}

// StepResult is the three-valued outcome of one handshake step attempt,
// spec.md §2's Completed/Fatal/WouldBlock.
type StepResult int

const (
	Completed StepResult = iota
	Fatal
	WouldBlock
)

func (r StepResult) String() string {
	switch r {
	case Completed:
		return "completed"
	case Fatal:
		return "fatal"
	default:
		return "would_block"
	}
}

// stepFunc is the stored callable a HandshakeRecord re-invokes from the
// reactor's poll timer until it stops returning WouldBlock. It never blocks
// itself — see asyncStep below for why.
type stepFunc func() (StepResult, error)

// handshakeRecord tracks one in-flight enable or disable for a single
// socket: invariant E-1 (at most one per socket_id) is enforced by the
// Encryptor only ever inserting into its pending map under its own mutex,
// invariant E-2 (exactly one resolve, exactly two watcher cancellations) by
// settle cancelling both ioWatcher and timeoutWatcher exactly once.
type handshakeRecord struct {
	socketID nbtls.SocketID
	socket   nbtls.Socket
	op       Op
	deferred *nbtls.Deferred[nbtls.Socket]
	step     stepFunc

	ioWatcher      nbtls.WatcherID
	timeoutWatcher nbtls.WatcherID
}

// asyncStep drives a blocking operation to completion on its own goroutine
// exactly once, and exposes a non-blocking poll of the outcome. This exists
// because *tls.Conn is not like a raw socket read: HandshakeContext (and
// Close, for the close_notify teardown) caches its first returned error in
// the conn and replays it on every later call rather than making further
// progress, so "probe with an already-elapsed deadline, retry later" — the
// technique that works for a plain net.Conn read — would make the first
// WouldBlock permanent instead of resumable. Running the blocking call to
// completion on its own goroutine and polling a completion flag sidesteps
// that: the *tls.Conn* method is invoked exactly once, while the Encryptor's
// reactor-driven retry loop still only ever does non-blocking polls.
type asyncStep struct {
	done chan struct{}
	err  error
}

// newAsyncStep starts fn on a new goroutine and returns immediately.
func newAsyncStep(fn func() error) *asyncStep {
	a := &asyncStep{done: make(chan struct{})}
	go func() {
		a.err = fn()
		close(a.done)
	}()
	return a
}

// poll reports WouldBlock until fn has returned, then the classification of
// its outcome forever after (newAsyncStep's goroutine only ever runs fn once, so this
// is safe to call any number of times from any goroutine).
func (a *asyncStep) poll() (StepResult, error) {
	select {
	case <-a.done:
		if a.err != nil {
			return Fatal, a.err
		}
		return Completed, nil
	default:
		return WouldBlock, nil
	}
}

// stepEnable returns a stepFunc driving tlsConn's handshake to completion on
// a background goroutine, bounded by a real deadline (not an already-elapsed
// probe one) so a peer that never responds can't leak the goroutine forever.
// The deadline is cleared once the handshake settles so it doesn't also
// apply to the connection's later, unrelated application traffic.
func stepEnable(tlsConn *tls.Conn, timeout time.Duration) stepFunc {
	_ = tlsConn.SetDeadline(time.Now().Add(timeout))
	a := newAsyncStep(func() error {
		defer tlsConn.SetDeadline(time.Time{})
		return tlsConn.HandshakeContext(context.Background())
	})
	return a.poll
}

// stepDisable is stepEnable's counterpart for the close_notify teardown
// (*tls.Conn).Close performs.
func stepDisable(tlsConn *tls.Conn, timeout time.Duration) stepFunc {
	_ = tlsConn.SetDeadline(time.Now().Add(timeout))
	a := newAsyncStep(func() error {
		defer tlsConn.SetDeadline(time.Time{})
		return tlsConn.Close()
	})
	return a.poll
}
