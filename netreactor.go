package nbtls

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	watcherArmed int32 = iota
	watcherDisabled
	watcherFired
	watcherCancelled
)

type timerWatcher struct {
	delay time.Duration
	cb    func()
	timer *time.Timer
	state atomic.Int32
}

type readWatcher struct {
	cb    func()
	done  chan struct{}
	state atomic.Int32
}

// netReactor is the production Reactor: timers are real time.Timers, and
// readability is observed with a goroutine doing short-deadline reads of a
// throwaway byte. That byte is necessarily consumed from the connection, so
// OnReadable is only safe to use on a socket nothing else is reading from —
// a dedicated liveness watcher, not a way to multiplex with another reader.
// Neither the crypto nor the pool package registers an OnReadable watcher
// against a socket mid-handshake or mid-reuse for exactly that reason (see
// SPEC_FULL.md). pollInterval bounds how promptly a cancelled watcher's
// goroutine notices and exits; it trades a small fixed worst-case latency
// for never needing raw fd/epoll access.
type netReactor struct {
	mu           sync.Mutex
	timers       map[WatcherID]*timerWatcher
	readers      map[WatcherID]*readWatcher
	nextID       uint64
	pollInterval time.Duration
	log          *zap.Logger
}

// NewReactor returns the production Reactor implementation.
func NewReactor(log *zap.Logger) Reactor {
	return &netReactor{
		timers:       make(map[WatcherID]*timerWatcher),
		readers:      make(map[WatcherID]*readWatcher),
		pollInterval: 20 * time.Millisecond,
		log:          NamedLogger(log, "reactor"),
	}
}

func (r *netReactor) newID() WatcherID {
	return WatcherID(atomic.AddUint64(&r.nextID, 1))
}

func (r *netReactor) OnReadable(sock Socket, cb func()) WatcherID {
	id := r.newID()
	w := &readWatcher{cb: cb, done: make(chan struct{})}
	r.mu.Lock()
	r.readers[id] = w
	r.mu.Unlock()

	go r.pollReadable(sock, w)
	return id
}

func (r *netReactor) pollReadable(sock Socket, w *readWatcher) {
	conn := sock.Underlying()
	var scratch [1]byte
	for {
		select {
		case <-w.done:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(r.pollInterval))

		n, err := conn.Read(scratch[:])
		if err != nil && isTimeout(err) {
			continue // no data yet within this poll slice; try again
		}
		dead := err != nil || n == 0
		if dead {
			// real EOF or I/O error: socket is readable-with-error.
			if tcp, ok := sock.(*TCPSocket); ok {
				tcp.MarkDead()
			}
		}

		if w.state.Load() != watcherArmed {
			return
		}
		w.cb()
		if dead {
			return // nothing more can arrive on a closed connection
		}
	}
}

func (r *netReactor) Once(delayMS int, cb func()) WatcherID  { return r.arm(delayMS, cb) }
func (r *netReactor) Delay(delayMS int, cb func()) WatcherID { return r.arm(delayMS, cb) }

func (r *netReactor) arm(delayMS int, cb func()) WatcherID {
	id := r.newID()
	delay := time.Duration(delayMS) * time.Millisecond
	w := &timerWatcher{delay: delay, cb: cb}
	w.timer = time.AfterFunc(delay, func() {
		if w.state.CompareAndSwap(watcherArmed, watcherFired) {
			cb()
		}
	})
	r.mu.Lock()
	r.timers[id] = w
	r.mu.Unlock()
	return id
}

func (r *netReactor) Disable(id WatcherID) {
	r.mu.Lock()
	w, ok := r.timers[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	if w.state.CompareAndSwap(watcherArmed, watcherDisabled) {
		w.timer.Stop()
	}
}

func (r *netReactor) Enable(id WatcherID) {
	r.mu.Lock()
	w, ok := r.timers[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	if w.state.CompareAndSwap(watcherDisabled, watcherArmed) {
		w.timer.Reset(w.delay)
	}
}

func (r *netReactor) Cancel(id WatcherID) {
	r.mu.Lock()
	w, wok := r.timers[id]
	rd, rok := r.readers[id]
	delete(r.timers, id)
	delete(r.readers, id)
	r.mu.Unlock()

	if wok {
		prev := w.state.Swap(watcherCancelled)
		if prev == watcherArmed || prev == watcherDisabled {
			w.timer.Stop()
		}
	}
	if rok {
		if rd.state.CompareAndSwap(watcherArmed, watcherCancelled) {
			close(rd.done)
		}
	}
}
