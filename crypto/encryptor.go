package crypto

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/caddyserver/nbtls"
)

// recognizedOptions is the full set of option keys Enable/Disable accept,
// validated with Options.CheckKeys the way pool.checkout validates its own
// option set.
var recognizedOptions = map[string]struct{}{
	"peer_name":          {},
	"cafile":             {},
	"ciphers":            {},
	"crypto_method":      {},
	"verify_peer":        {},
	"peer_fingerprint":   {},
	"handshake_timeout":  {},
	"sni_nb_hack":        {}, // synthetic, written by Enable itself
	"peer_certificate":   {}, // synthetic, written by Enable on success
}

const defaultHandshakeTimeoutMS = 10_000

// Config configures an Encryptor's defaults; any Options passed to a
// specific Enable call are merged over these.
type Config struct {
	Logger  *zap.Logger
	Metrics *nbtls.Metrics
	Reactor nbtls.Reactor

	Defaults nbtls.Options
}

// Encryptor is the Cryptographic Handshake Controller, spec.md §4.1. One
// Encryptor instance is expected to be shared across every socket a process
// drives TLS over; concurrency safety comes from mu, held across the
// synchronous portion of every public call and every watcher callback, so
// no two callbacks ever observe or mutate a given socket's state at once
// (spec.md §5).
type Encryptor struct {
	reactor nbtls.Reactor
	log     *zap.Logger
	metrics *nbtls.Metrics
	cfg     nbtls.Options

	mu      sync.Mutex
	pending map[nbtls.SocketID]*handshakeRecord
}

// New constructs an Encryptor driven by reactor.
func New(reactor nbtls.Reactor, cfg Config) *Encryptor {
	return &Encryptor{
		reactor: reactor,
		log:     nbtls.NamedLogger(cfg.Logger, "crypto"),
		metrics: cfg.Metrics,
		cfg:     cfg.Defaults.Clone(),
		pending: make(map[nbtls.SocketID]*handshakeRecord),
	}
}

// Enable upgrades sock to TLS under opts (merged over the Encryptor's
// configured defaults), per spec.md §4.1. The returned Promise settles with
// sock itself on success.
func (e *Encryptor) Enable(ctx context.Context, sock nbtls.Socket, opts nbtls.Options) *nbtls.Promise[nbtls.Socket] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, busy := e.pending[sock.ID()]; busy {
		return rejected(nbtls.ErrCryptoBusy)
	}
	if sock.Underlying() == nil {
		return rejected(nbtls.ErrInvalidStream)
	}

	merged := e.cfg.Merge(opts)
	if err := merged.CheckKeys(recognizedOptions); err != nil {
		return rejected(err)
	}

	if contextMatches(sock.Context(), merged) && sock.TLSConn() != nil {
		d := nbtls.NewDeferred[nbtls.Socket]()
		d.Resolve(sock)
		return d.Promise()
	}

	if sock.TLSConn() != nil {
		// Already encrypted under a different configuration: renegotiate by
		// disabling first, then re-enabling under merged. The pending-map
		// entry this call installs below (for the disable leg) keeps E-1
		// satisfied across both legs of the sequence.
		return e.renegotiate(ctx, sock, merged)
	}

	return e.doEnable(ctx, sock, merged)
}

// Disable tears sock's TLS layer down, leaving the underlying connection
// open for the caller, per spec.md §4.1.
func (e *Encryptor) Disable(ctx context.Context, sock nbtls.Socket) *nbtls.Promise[nbtls.Socket] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, busy := e.pending[sock.ID()]; busy {
		return rejected(nbtls.ErrCryptoBusy)
	}
	if sock.TLSConn() == nil {
		d := nbtls.NewDeferred[nbtls.Socket]()
		d.Resolve(sock)
		return d.Promise()
	}
	return e.doDisable(ctx, sock)
}

// contextMatches reports whether sock's stored context already reflects
// merged, ignoring the synthetic keys Enable itself writes.
func contextMatches(current map[string]any, merged nbtls.Options) bool {
	if len(current) == 0 {
		return false
	}
	for k, v := range merged {
		if k == "sni_nb_hack" || k == "peer_certificate" {
			continue
		}
		cv, ok := current[k]
		if !ok || cv != v {
			return false
		}
	}
	return true
}

func rejected(err error) *nbtls.Promise[nbtls.Socket] {
	d := nbtls.NewDeferred[nbtls.Socket]()
	d.Reject(err)
	return d.Promise()
}

// doEnable installs merged into sock's context, wraps it in TLS, and
// attempts the first handshake step synchronously. Must be called with
// e.mu held; returns with the lock still held.
func (e *Encryptor) doEnable(ctx context.Context, sock nbtls.Socket, merged nbtls.Options) *nbtls.Promise[nbtls.Socket] {
	tcp, ok := sock.(*nbtls.TCPSocket)
	if !ok {
		return rejected(fmt.Errorf("%w: socket does not support TLS wrapping", nbtls.ErrInvalidStream))
	}

	tlsCfg, verifier, err := e.buildTLSConfig(merged)
	if err != nil {
		return rejected(err)
	}

	ctxMap := sock.Context()
	for k, v := range merged {
		ctxMap[k] = v
	}
	ctxMap["sni_nb_hack"] = false

	tlsConn := tcp.WrapTLS(tlsCfg)
	sock.SetTLSConn(tlsConn)

	timeoutMS := merged.Int("handshake_timeout", defaultHandshakeTimeoutMS)
	rec := &handshakeRecord{
		socketID: sock.ID(),
		socket:   sock,
		op:       OpEnable,
		deferred: nbtls.NewDeferred[nbtls.Socket](),
		step:     stepEnable(tlsConn, time.Duration(timeoutMS)*time.Millisecond),
	}
	e.pending[sock.ID()] = rec
	e.watchCancellation(ctx, rec)
	e.armTimeout(rec, timeoutMS)

	e.attempt(rec, verifier, merged)
	return rec.deferred.Promise()
}

// doDisable attempts the first close_notify step synchronously. Must be
// called with e.mu held; returns with the lock still held.
func (e *Encryptor) doDisable(ctx context.Context, sock nbtls.Socket) *nbtls.Promise[nbtls.Socket] {
	tlsConn := sock.TLSConn()
	rec := &handshakeRecord{
		socketID: sock.ID(),
		socket:   sock,
		op:       OpDisable,
		deferred: nbtls.NewDeferred[nbtls.Socket](),
		step:     stepDisable(tlsConn, defaultHandshakeTimeoutMS*time.Millisecond),
	}
	e.pending[sock.ID()] = rec
	e.watchCancellation(ctx, rec)

	e.armTimeout(rec, defaultHandshakeTimeoutMS)
	e.attemptDisable(rec)
	return rec.deferred.Promise()
}

// watchCancellation settles rec with ctx.Err() if ctx is cancelled before
// rec settles on its own. The watching goroutine exits as soon as either
// happens; it never touches e.mu except when it is the one deciding rec's
// outcome.
func (e *Encryptor) watchCancellation(ctx context.Context, rec *handshakeRecord) {
	if ctx.Done() == nil {
		return
	}
	done := make(chan struct{})
	rec.deferred.Promise().Then(func(nbtls.Socket, error) { close(done) })

	go func() {
		select {
		case <-ctx.Done():
			e.mu.Lock()
			defer e.mu.Unlock()
			if cur, ok := e.pending[rec.socketID]; ok && cur == rec {
				e.settle(rec, ctx.Err())
			}
		case <-done:
		}
	}()
}

func (e *Encryptor) armTimeout(rec *handshakeRecord, timeoutMS int) {
	rec.timeoutWatcher = e.reactor.Once(timeoutMS, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.pending[rec.socketID]; !ok {
			return // already settled by attempt()
		}
		e.settle(rec, nbtls.ErrCryptoTimeout)
	})
}

// attempt runs one enable step and either settles rec or reschedules
// itself on the reactor's timer facility. Must be called with e.mu held.
func (e *Encryptor) attempt(rec *handshakeRecord, verifier PeerVerifier, opts nbtls.Options) {
	start := time.Now()
	result, err := rec.step()

	switch result {
	case Completed:
		if verr := e.verifyPeer(rec.socket, verifier, opts); verr != nil {
			e.recordOutcome(rec.op, "verify_failed", start)
			e.settle(rec, verr)
			return
		}
		e.recordOutcome(rec.op, "completed", start)
		e.settle(rec, nil)
	case Fatal:
		e.recordOutcome(rec.op, "fatal", start)
		e.settle(rec, fmt.Errorf("%w: %v", nbtls.ErrCryptoError, err))
	case WouldBlock:
		rec.ioWatcher = e.reactor.Once(handshakePollMS, func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if _, ok := e.pending[rec.socketID]; !ok {
				return
			}
			e.attempt(rec, verifier, opts)
		})
	}
}

func (e *Encryptor) attemptDisable(rec *handshakeRecord) {
	start := time.Now()
	result, err := rec.step()

	switch result {
	case Completed:
		e.recordOutcome(rec.op, "completed", start)
		e.settle(rec, nil)
	case Fatal:
		e.recordOutcome(rec.op, "fatal", start)
		e.settle(rec, fmt.Errorf("%w: %v", nbtls.ErrCryptoError, err))
	case WouldBlock:
		rec.ioWatcher = e.reactor.Once(handshakePollMS, func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if _, ok := e.pending[rec.socketID]; !ok {
				return
			}
			e.attemptDisable(rec)
		})
	}
}

const handshakePollMS = 20

// settle cancels both of rec's watchers exactly once (E-2), removes rec
// from the pending map, clears the socket's TLS layer after a failed enable
// or a successful disable, and resolves/rejects the Deferred. Must be called
// with e.mu held.
func (e *Encryptor) settle(rec *handshakeRecord, err error) {
	if rec.ioWatcher != 0 {
		e.reactor.Cancel(rec.ioWatcher)
	}
	e.reactor.Cancel(rec.timeoutWatcher)
	delete(e.pending, rec.socketID)

	if err != nil {
		e.log.Warn("crypto operation failed",
			zap.String("op", rec.op.String()),
			zap.String("socket_id", string(rec.socketID)),
			zap.Error(err))
		if rec.op == OpEnable {
			rec.socket.SetTLSConn(nil)
		}
		rec.deferred.Reject(err)
		return
	}
	if rec.op == OpDisable {
		rec.socket.SetTLSConn(nil)
	}
	rec.deferred.Resolve(rec.socket)
}

func (e *Encryptor) recordOutcome(op Op, outcome string, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.HandshakeTotal.WithLabelValues(op.String(), outcome).Inc()
	e.metrics.HandshakeDuration.Observe(time.Since(start).Seconds())
}

func (e *Encryptor) verifyPeer(sock nbtls.Socket, verifier PeerVerifier, opts nbtls.Options) error {
	if _, ok := verifier.(NativeVerifier); ok {
		return nil
	}
	state := sock.TLSConn().ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return fmt.Errorf("%w: no peer certificate presented", errVerificationFailed)
	}
	leaf := state.PeerCertificates[0]
	sock.Context()["peer_certificate"] = leaf
	return verifier.Verify(leaf, opts.String("peer_name", ""), opts.String("peer_fingerprint", ""))
}

// buildTLSConfig translates opts into a *tls.Config and the PeerVerifier
// strategy the post-handshake check should use.
func (e *Encryptor) buildTLSConfig(opts nbtls.Options) (*tls.Config, PeerVerifier, error) {
	minVersion, err := CryptoMethodFromString(opts.String("crypto_method", ""))
	if err != nil {
		return nil, nil, err
	}

	legacy := !opts.Bool("verify_peer", true)
	ciphersOpt := opts.String("ciphers", "")

	var suites []uint16
	switch {
	case ciphersOpt != "":
		suites, err = ParseCiphers(ciphersOpt)
		if err != nil {
			return nil, nil, err
		}
	case legacy:
		// spec.md §6: ciphers is "defaulted in legacy mode" when unset.
		suites = legacyCipherSuites()
	}

	cfg := &tls.Config{
		ServerName:   opts.String("peer_name", ""),
		MinVersion:   minVersion,
		CipherSuites: suites,
	}

	if ca := opts.String("cafile", ""); ca != "" {
		pool, err := loadCAFile(ca)
		if err != nil {
			return nil, nil, err
		}
		cfg.RootCAs = pool
	}

	if legacy {
		cfg.InsecureSkipVerify = true
		return cfg, ManualVerifier{}, nil
	}
	return cfg, NativeVerifier{}, nil
}

func loadCAFile(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading cafile: %v", nbtls.ErrCryptoError, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("%w: cafile contains no usable certificates", nbtls.ErrCryptoError)
	}
	return pool, nil
}

// renegotiate performs disable(sock) followed by enable(sock, merged),
// wrapping either leg's failure as ErrCryptoRenegotiationFailed. Must be
// called with e.mu held.
//
// Both legs' Then callbacks run without taking e.mu themselves: a Promise's
// callback always fires either synchronously inside the call that settled
// it (same goroutine, lock already held by whichever public Encryptor
// method is on the stack) or from inside settle() on the watcher goroutine
// that is itself already holding e.mu. Re-locking here would deadlock the
// synchronous case and is unnecessary in the async one. This keeps the
// pending-map entry continuously populated for sock across both legs except
// for the instant between the disable leg's settle and doEnable's own
// insert — a plain function call with no intervening yield, so no other
// goroutine's call can observe the gap.
func (e *Encryptor) renegotiate(ctx context.Context, sock nbtls.Socket, merged nbtls.Options) *nbtls.Promise[nbtls.Socket] {
	outer := nbtls.NewDeferred[nbtls.Socket]()

	disableP := e.doDisable(ctx, sock)
	disableP.Then(func(_ nbtls.Socket, err error) {
		if err != nil {
			outer.Reject(fmt.Errorf("%w: disabling previous session: %v", nbtls.ErrCryptoRenegotiationFailed, err))
			return
		}

		enableP := e.doEnable(ctx, sock, merged)
		enableP.Then(func(s nbtls.Socket, err error) {
			if err != nil {
				outer.Reject(fmt.Errorf("%w: %v", nbtls.ErrCryptoRenegotiationFailed, err))
				return
			}
			outer.Resolve(s)
		})
	})

	return outer.Promise()
}
