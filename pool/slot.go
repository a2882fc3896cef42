package pool

import "github.com/caddyserver/nbtls"

type slotState int

const (
	slotAvailable slotState = iota
	slotInUse
)

// PoolSlot is one pooled socket and its bookkeeping, spec.md §3's PoolSlot
// data model. idleWatcher is non-zero exactly when the slot is available
// and idle — invariant P-3 — and is cancelled the instant the slot is
// checked back out, whether by a fresh checkout or by an FIFO waiter.
//
// needs_rebind (spec.md §3) is deliberately not a field here: the spec
// calls it "a transient flag set during a reuse scan," and it names a
// property of one Checkout's scan, not a lasting property of a slot — a
// slot that can't satisfy this request's bindto is simply left in place for
// the next request that might want it. scanForReuse returns it as a plain
// bool; see pool.go.
type PoolSlot struct {
	socket    nbtls.Socket
	authority string
	state     slotState

	idleWatcher nbtls.WatcherID
}

// waiter is one queued checkout request blocked on capacity, dispatched
// strictly FIFO as slots free up.
type waiter struct {
	authority string
	opts      nbtls.Options
	deferred  *nbtls.Deferred[nbtls.Socket]
}
