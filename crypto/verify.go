package crypto

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/x509"
	"fmt"
	"strings"
)

// PeerVerifier implements spec.md §4.1's peer-verification strategy. Native
// delegates entirely to crypto/tls's own chain verification; Manual
// reproduces the legacy fingerprint/wildcard-name checks for callers that
// set InsecureSkipVerify and supply peer_fingerprint/peer_name themselves.
type PeerVerifier interface {
	// Verify runs after the transport reports the handshake Completed. leaf
	// is the peer's end-entity certificate. peerName is the name the caller
	// expected to connect to (for wildcard/CN/SAN matching); it may be empty
	// if only fingerprint pinning was requested.
	Verify(leaf *x509.Certificate, peerName, wantFingerprint string) error
}

// NativeVerifier is a no-op: crypto/tls already verified the chain (and the
// server name, via tls.Config.ServerName) before HandshakeContext returned
// Completed, so there is nothing left to check.
type NativeVerifier struct{}

func (NativeVerifier) Verify(*x509.Certificate, string, string) error { return nil }

// ManualVerifier reproduces the legacy fingerprint-pinning and
// wildcard/CN/SAN name matching spec.md §4.1 describes for the
// InsecureSkipVerify + peer_fingerprint/peer_name "legacy mode" path.
type ManualVerifier struct{}

func (ManualVerifier) Verify(leaf *x509.Certificate, peerName, wantFingerprint string) error {
	if wantFingerprint != "" {
		if err := checkFingerprint(leaf, wantFingerprint); err != nil {
			return err
		}
	}
	if peerName != "" {
		if !matchesName(leaf, peerName) {
			return fmt.Errorf("%w: certificate does not match peer name %q", errVerificationFailed, peerName)
		}
	}
	return nil
}

// checkFingerprint accepts either a SHA-1 or an MD5 hex digest (matching
// either selects that algorithm), case-insensitively and with or without
// colon separators, the same loose format legacy fingerprint-pinning callers
// historically supplied.
func checkFingerprint(leaf *x509.Certificate, want string) error {
	want = strings.ToLower(strings.ReplaceAll(want, ":", ""))

	sha1sum := sha1.Sum(leaf.Raw)
	if hexEqual(sha1sum[:], want) {
		return nil
	}
	md5sum := md5.Sum(leaf.Raw)
	if hexEqual(md5sum[:], want) {
		return nil
	}
	return fmt.Errorf("%w: fingerprint mismatch", errVerificationFailed)
}

func hexEqual(sum []byte, want string) bool {
	if len(want) != len(sum)*2 {
		return false
	}
	const hextable = "0123456789abcdef"
	for i, b := range sum {
		if hextable[b>>4] != want[i*2] || hextable[b&0x0f] != want[i*2+1] {
			return false
		}
	}
	return true
}

// matchesName checks peerName against the leaf's CommonName and DNSNames,
// honoring a single leading "*." wildcard label exactly as RFC 6125 +
// net/http's own name-matching (and the legacy runtime it replaces) do: the
// wildcard matches exactly one label, never a suffix of two or more.
func matchesName(leaf *x509.Certificate, peerName string) bool {
	peerName = strings.ToLower(peerName)
	candidates := leaf.DNSNames
	if leaf.Subject.CommonName != "" {
		candidates = append(candidates, leaf.Subject.CommonName)
	}
	for _, cand := range candidates {
		if nameMatches(strings.ToLower(cand), peerName) {
			return true
		}
	}
	return false
}

func nameMatches(pattern, name string) bool {
	if pattern == name {
		return true
	}
	if !strings.HasPrefix(pattern, "*.") {
		return false
	}
	patLabels := strings.Split(pattern, ".")
	nameLabels := strings.Split(name, ".")
	if len(patLabels) != len(nameLabels) {
		return false
	}
	if nameLabels[0] == "" {
		return false
	}
	for i := 1; i < len(patLabels); i++ {
		if patLabels[i] != nameLabels[i] {
			return false
		}
	}
	return true
}
