package nbtls

import "errors"

// Sentinel error kinds, matched with errors.Is by callers. Several carry
// a wrapped cause and are constructed with fmt.Errorf("...: %w", cause)
// rather than being returned bare — errors.Is still finds the sentinel.
var (
	// ErrCryptoBusy is returned when enable/disable is called on a socket
	// that already has a handshake in flight.
	ErrCryptoBusy = errors.New("nbtls: crypto operation already in progress for this socket")

	// ErrInvalidStream is returned when a socket's stream type cannot be
	// upgraded to TLS.
	ErrInvalidStream = errors.New("nbtls: socket does not support TLS upgrade")

	// ErrCryptoError wraps a transport-reported handshake failure.
	ErrCryptoError = errors.New("nbtls: handshake failed")

	// ErrCryptoTimeout is returned when the handshake deadline elapses
	// before the handshake completes.
	ErrCryptoTimeout = errors.New("nbtls: handshake timed out")

	// ErrCryptoRenegotiationFailed wraps a disable or enable failure that
	// occurred while renegotiating under a new configuration.
	ErrCryptoRenegotiationFailed = errors.New("nbtls: renegotiation failed")

	// ErrUnknownSocket is returned by checkin/clear for a socket id the
	// pool never checked out.
	ErrUnknownSocket = errors.New("nbtls: socket not known to this pool")

	// ErrUnknownOption is returned when an options map carries a key
	// neither the pool nor the encryptor recognizes.
	ErrUnknownOption = errors.New("nbtls: unrecognized option")

	// ErrConnectError wraps a failure surfaced from the pool's Dialer.
	ErrConnectError = errors.New("nbtls: connect failed")
)
