package nbtls

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNetReactorOnceFiresAfterDelay(t *testing.T) {
	r := NewReactor(nil)
	done := make(chan struct{})
	r.Once(10, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestNetReactorCancelPreventsFire(t *testing.T) {
	r := NewReactor(nil)
	fired := make(chan struct{}, 1)
	id := r.Once(20, func() { fired <- struct{}{} })
	r.Cancel(id)

	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestNetReactorDisableEnableRoundTrip(t *testing.T) {
	r := NewReactor(nil)
	fired := make(chan struct{}, 1)
	id := r.Once(15, func() { fired <- struct{}{} })
	r.Disable(id)

	select {
	case <-fired:
		t.Fatal("disabled timer fired")
	case <-time.After(40 * time.Millisecond):
	}

	r.Enable(id)
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("re-enabled timer never fired")
	}
}

func TestNetReactorOnReadableFiresOnData(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sock := NewTCPSocket(server, "")
	r := NewReactor(nil)

	// the watcher keeps firing until cancelled (including once more when the
	// pipe is closed at the end of the test), so signal without blocking.
	done := make(chan struct{}, 1)
	r.OnReadable(sock, func() {
		select {
		case done <- struct{}{}:
		default:
		}
	})

	go func() { _, _ = client.Write([]byte("x")) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnReadable never fired")
	}
}

func TestNetReactorOnReadableMarksSocketDeadOnClose(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	sock := NewTCPSocket(server, "")
	r := NewReactor(nil)

	done := make(chan struct{})
	r.OnReadable(sock, func() { close(done) })

	client.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnReadable never fired on peer close")
	}
	require.True(t, sock.Dead())
}
