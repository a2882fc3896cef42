package crypto

import (
	"fmt"

	"github.com/caddyserver/nbtls"
)

// errUnknownCipherOption wraps nbtls.ErrUnknownOption so callers using
// errors.Is against the shared sentinel still match cipher/protocol parse
// failures raised from within this package.
var errUnknownCipherOption = fmt.Errorf("%w", nbtls.ErrUnknownOption)

// errVerificationFailed wraps nbtls.ErrCryptoError so manual peer
// verification failures (fingerprint/name mismatch) surface through the
// same sentinel as any other handshake failure.
var errVerificationFailed = fmt.Errorf("%w: manual peer verification failed", nbtls.ErrCryptoError)
