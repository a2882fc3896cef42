package nbtls

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTCPSocketDeadFalseWhenIdle(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sock := NewTCPSocket(server, "")
	require.False(t, sock.Dead())
}

func TestTCPSocketDeadTrueAfterPeerClose(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	sock := NewTCPSocket(server, "")
	client.Close()

	require.True(t, sock.Dead())
}

func TestTCPSocketMarkDeadIsSticky(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sock := NewTCPSocket(server, "")
	sock.MarkDead()
	require.True(t, sock.Dead())
}

func TestKeepOpenConnCloseIsNoOp(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	wrapped := keepOpenConn{server}
	require.NoError(t, wrapped.Close())

	// the real conn must still be usable: a write from the other end
	// should still be readable through it.
	go func() { _, _ = client.Write([]byte("hi")) }()
	buf := make([]byte, 2)
	n, err := server.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestNewSocketIDIsUnique(t *testing.T) {
	a := NewSocketID()
	b := NewSocketID()
	require.NotEqual(t, a, b)
}
