package nbtls

// WatcherID identifies a registration with a Reactor: either a readability
// watcher or a timer. It is opaque outside this package and its
// subpackages; callers only ever pass it back to Disable/Enable/Cancel.
type WatcherID uint64

// Reactor is the external event source both the crypto and pool packages
// depend on (spec.md §6). Production code wires in netReactor; tests wire
// in FakeReactor so handshake/eviction timing is deterministic.
type Reactor interface {
	// OnReadable invokes cb every time sock has data available to read
	// (or hits EOF/error), until the returned watcher is cancelled.
	OnReadable(sock Socket, cb func()) WatcherID

	// Once arms a one-shot timer that fires cb after delayMS milliseconds.
	Once(delayMS int, cb func()) WatcherID

	// Delay is equivalent to Once; both exist because the reactor
	// contract historically named the same one-shot-timer capability two
	// ways (Design Note §9).
	Delay(delayMS int, cb func()) WatcherID

	// Disable pauses a timer watcher without discarding it; Enable
	// re-arms it from scratch. Both are no-ops on readability watchers
	// and on watchers that have already fired or been cancelled.
	Disable(id WatcherID)
	Enable(id WatcherID)

	// Cancel permanently removes a watcher. Cancelling an already-fired
	// or already-cancelled watcher is a no-op.
	Cancel(id WatcherID)
}
