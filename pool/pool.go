package pool

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/caddyserver/nbtls"
)

var recognizedOptions = map[string]struct{}{
	"host_connection_limit": {},
	"idle_timeout":          {},
	"connect_timeout":       {},
	"bindto":                {},
}

const (
	defaultHostConnectionLimit = 8
	defaultIdleTimeoutMS       = 10_000
)

// SocketPool is the Per-Authority Socket Pool, spec.md §4.2: a bounded set
// of reusable sockets keyed by canonicalized authority, with FIFO queueing
// once an authority is at capacity. One mutex guards every map below,
// matching the single-threaded cooperative model spec.md §5 describes;
// callback-driven state changes (idle eviction, dial completion) all
// re-acquire it the same way the crypto package's watcher callbacks do.
type SocketPool struct {
	reactor nbtls.Reactor
	dialer  Dialer
	log     *zap.Logger
	metrics *nbtls.Metrics
	cfg     nbtls.Options

	mu sync.Mutex

	slots       map[nbtls.SocketID]*PoolSlot
	byAuthority map[string][]nbtls.SocketID
	pending     map[string]int // in-flight dials per authority, not yet slotted
	waiters     map[string][]*waiter
}

// Config configures a SocketPool's defaults and collaborators.
type Config struct {
	Reactor nbtls.Reactor
	Dialer  Dialer // nil uses DefaultDialer
	Logger  *zap.Logger
	Metrics *nbtls.Metrics

	Defaults nbtls.Options
}

// New constructs a SocketPool.
func New(cfg Config) *SocketPool {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = DefaultDialer{}
	}
	return &SocketPool{
		reactor:     cfg.Reactor,
		dialer:      dialer,
		log:         nbtls.NamedLogger(cfg.Logger, "pool"),
		metrics:     cfg.Metrics,
		cfg:         cfg.Defaults.Clone(),
		slots:       make(map[nbtls.SocketID]*PoolSlot),
		byAuthority: make(map[string][]nbtls.SocketID),
		pending:     make(map[string]int),
		waiters:     make(map[string][]*waiter),
	}
}

// Checkout obtains a socket bound to authority, reusing an idle pooled
// socket when one matches or dialing (or queueing for) a fresh one
// otherwise, per spec.md §4.2.
func (p *SocketPool) Checkout(ctx context.Context, authority string, opts nbtls.Options) *nbtls.Promise[nbtls.Socket] {
	canon := canonicalizeAuthority(authority)
	merged := p.cfg.Merge(opts)
	if err := merged.CheckKeys(recognizedOptions); err != nil {
		return rejected(err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tryCheckout(ctx, canon, merged)
}

// tryCheckout runs one reuse-scan-then-dial-or-queue attempt. Must be
// called with p.mu held.
func (p *SocketPool) tryCheckout(ctx context.Context, canon string, opts nbtls.Options) *nbtls.Promise[nbtls.Socket] {
	wantBindto := opts.String("bindto", "")

	slot, needsRebind := p.scanForReuse(canon, wantBindto)
	if slot != nil {
		p.checkoutSlot(slot)
		d := nbtls.NewDeferred[nbtls.Socket]()
		d.Resolve(slot.socket)
		p.updateGauges(canon)
		return d.Promise()
	}

	limit := opts.Int("host_connection_limit", defaultHostConnectionLimit)
	used := len(p.byAuthority[canon]) + p.pending[canon]
	// Invariant P-2: the limit binds unless disabled (≤0) or this scan
	// found only wrong-bindto slots it could not evict to make room —
	// needsRebind bypasses the limit rather than queueing behind a slot
	// that will never free the bindto this request actually wants.
	if limit > 0 && used >= limit && !needsRebind {
		d := nbtls.NewDeferred[nbtls.Socket]()
		p.waiters[canon] = append(p.waiters[canon], &waiter{authority: canon, opts: opts, deferred: d})
		p.updateGauges(canon)
		return d.Promise()
	}

	return p.dial(ctx, canon, opts)
}

// scanForReuse walks canon's slots looking for an available, live socket.
// Dead sockets are evicted as they're found. The first live match whose
// bindto agrees with wantBindto (or wantBindto is unset) is returned. A
// live available socket bound to a different local address is left in
// place, spec.md §4.2 step 3's "set needs_rebind = true, continue" — it is
// not evicted, since a later request for its own bindto could still reuse
// it — and the returned bool tells tryCheckout it may bypass
// host_connection_limit for a fresh dial instead of queueing. Must be
// called with p.mu held.
func (p *SocketPool) scanForReuse(canon, wantBindto string) (*PoolSlot, bool) {
	ids := p.byAuthority[canon]
	kept := ids[:0]
	var found *PoolSlot
	needsRebind := false

	for _, id := range ids {
		slot, ok := p.slots[id]
		if !ok {
			continue
		}
		if slot.state != slotAvailable {
			kept = append(kept, id)
			continue
		}
		if slot.socket.Dead() {
			p.evictSlot(slot)
			continue
		}
		if found == nil && (wantBindto == "" || slot.socket.Bindto() == wantBindto) {
			found = slot
			kept = append(kept, id)
			continue
		}
		if wantBindto != "" && slot.socket.Bindto() != wantBindto {
			needsRebind = true
		}
		kept = append(kept, id)
	}
	p.byAuthority[canon] = kept
	return found, needsRebind
}

// checkoutSlot marks slot in-use and cancels its idle watcher. Must be
// called with p.mu held.
func (p *SocketPool) checkoutSlot(slot *PoolSlot) {
	if slot.idleWatcher != 0 {
		p.reactor.Cancel(slot.idleWatcher)
		slot.idleWatcher = 0
	}
	slot.state = slotInUse
}

// evictSlot removes slot from every map and closes its underlying
// connection. Must be called with p.mu held.
func (p *SocketPool) evictSlot(slot *PoolSlot) {
	if slot.idleWatcher != 0 {
		p.reactor.Cancel(slot.idleWatcher)
		slot.idleWatcher = 0
	}
	delete(p.slots, slot.socket.ID())
	_ = slot.socket.Underlying().Close()
}

// dial starts an asynchronous connect for canon, counted against its
// capacity via p.pending until it settles. Must be called with p.mu held.
func (p *SocketPool) dial(ctx context.Context, canon string, opts nbtls.Options) *nbtls.Promise[nbtls.Socket] {
	d := nbtls.NewDeferred[nbtls.Socket]()
	p.pending[canon]++
	p.updateGauges(canon)

	go func() {
		sock, err := p.dialer.Dial(ctx, canon, opts)

		p.mu.Lock()
		defer p.mu.Unlock()
		p.pending[canon]--

		if err != nil {
			p.log.Warn("connect failed", zap.String("authority", canon), zap.Error(err))
			d.Reject(err)
			p.updateGauges(canon)
			p.dispatchWaiters(canon)
			return
		}

		slot := &PoolSlot{socket: sock, authority: canon, state: slotInUse}
		p.slots[sock.ID()] = slot
		p.byAuthority[canon] = append(p.byAuthority[canon], sock.ID())
		p.updateGauges(canon)
		d.Resolve(sock)
	}()

	return d.Promise()
}

// Checkin returns socketID to its authority's pool as available, arming an
// idle eviction timer (P-3) unless an FIFO waiter is immediately dispatched
// to it instead.
func (p *SocketPool) Checkin(ctx context.Context, socketID nbtls.SocketID, opts nbtls.Options) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot, ok := p.slots[socketID]
	if !ok {
		return nbtls.ErrUnknownSocket
	}
	slot.state = slotAvailable

	merged := p.cfg.Merge(opts)
	if w := p.popWaiter(slot.authority); w != nil {
		p.checkoutSlot(slot)
		w.deferred.Resolve(slot.socket)
		p.updateGauges(slot.authority)
		return nil
	}

	idleMS := merged.Int("idle_timeout", defaultIdleTimeoutMS)
	slot.idleWatcher = p.reactor.Once(idleMS, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if cur, ok := p.slots[socketID]; ok && cur == slot && slot.state == slotAvailable {
			p.evictSlotFromAuthority(slot)
		}
	})
	p.updateGauges(slot.authority)
	return nil
}

// Clear evicts socketID immediately regardless of its state, closing its
// underlying connection and dispatching the next FIFO waiter for its
// authority if one exists.
func (p *SocketPool) Clear(socketID nbtls.SocketID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot, ok := p.slots[socketID]
	if !ok {
		return nbtls.ErrUnknownSocket
	}
	p.evictSlotFromAuthority(slot)
	return nil
}

// evictSlotFromAuthority evicts slot and removes it from its authority's id
// list, then dispatches any waiter the freed capacity unblocks. Must be
// called with p.mu held.
func (p *SocketPool) evictSlotFromAuthority(slot *PoolSlot) {
	canon := slot.authority
	p.evictSlot(slot)
	ids := p.byAuthority[canon][:0]
	for _, id := range p.byAuthority[canon] {
		if id != slot.socket.ID() {
			ids = append(ids, id)
		}
	}
	p.byAuthority[canon] = ids
	p.updateGauges(canon)
	p.dispatchWaiters(canon)
}

// dispatchWaiters pops and re-attempts exactly the next FIFO waiter for
// canon, if capacity now allows it. Must be called with p.mu held.
func (p *SocketPool) dispatchWaiters(canon string) {
	w := p.popWaiter(canon)
	if w == nil {
		return
	}
	queued := len(p.waiters[canon])
	promise := p.tryCheckout(context.Background(), canon, w.opts)
	if q := p.waiters[canon]; len(q) > queued {
		// still no capacity: drop the entry tryCheckout queued at the tail
		// and put w back at the head so it keeps its FIFO position.
		p.waiters[canon] = append([]*waiter{w}, q[:queued]...)
		return
	}
	promise.Then(func(sock nbtls.Socket, err error) {
		if err != nil {
			w.deferred.Reject(err)
			return
		}
		w.deferred.Resolve(sock)
	})
}

// popWaiter removes and returns the head of canon's FIFO waiter queue, or
// nil if empty. Must be called with p.mu held.
func (p *SocketPool) popWaiter(canon string) *waiter {
	q := p.waiters[canon]
	if len(q) == 0 {
		return nil
	}
	w := q[0]
	p.waiters[canon] = q[1:]
	return w
}

func (p *SocketPool) updateGauges(canon string) {
	if p.metrics == nil {
		return
	}
	available := 0
	for _, id := range p.byAuthority[canon] {
		if s, ok := p.slots[id]; ok && s.state == slotAvailable {
			available++
		}
	}
	p.metrics.PoolSize.WithLabelValues(canon).Set(float64(len(p.byAuthority[canon])))
	p.metrics.PoolAvailable.WithLabelValues(canon).Set(float64(available))
	p.metrics.PoolPending.WithLabelValues(canon).Set(float64(p.pending[canon]))
	p.metrics.PoolQueued.WithLabelValues(canon).Set(float64(len(p.waiters[canon])))
}

func rejected(err error) *nbtls.Promise[nbtls.Socket] {
	d := nbtls.NewDeferred[nbtls.Socket]()
	d.Reject(err)
	return d.Promise()
}
