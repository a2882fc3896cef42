package crypto

import (
	"crypto/tls"
	"fmt"
	"strings"
)

// protocolVersions maps the options-layer crypto_method strings spec.md §6
// enumerates onto crypto/tls version constants, the same textual-to-constant
// translation shape as caddytls/crypto.go's protocol name tables use.
var protocolVersions = map[string]uint16{
	"TLSv1_2": tls.VersionTLS12,
	"TLSv1_3": tls.VersionTLS13,
	"TLS":     0, // let crypto/tls negotiate the highest mutually supported version
}

// CryptoMethodFromString translates a crypto_method option value into a
// crypto/tls MinVersion. An empty or "TLS" value means "no floor" (0).
func CryptoMethodFromString(method string) (uint16, error) {
	if method == "" {
		return 0, nil
	}
	v, ok := protocolVersions[method]
	if !ok {
		return 0, fmt.Errorf("%w: unrecognized crypto_method %q", errUnknownCipherOption, method)
	}
	return v, nil
}

// cipherSuites maps the short tokens accepted in a ciphers option string onto
// crypto/tls cipher suite IDs. Only suites crypto/tls still exposes through
// CipherSuites()/InsecureCipherSuites() are listed. That includes the TLS 1.3
// suites CipherSuites() reports, so their names parse, but crypto/tls does
// not let them be configured (it always negotiates its fixed set for 1.3) and
// ignores them in tls.Config.CipherSuites.
var cipherSuites = func() map[string]uint16 {
	m := make(map[string]uint16)
	for _, cs := range tls.CipherSuites() {
		m[cs.Name] = cs.ID
	}
	for _, cs := range tls.InsecureCipherSuites() {
		m[cs.Name] = cs.ID
	}
	return m
}()

// opensslAliases maps the OpenSSL-style cipher suite names spec.md §6's
// legacy default cipher string (and many existing deployments' ciphers
// option values) use onto the struct-style names crypto/tls.CipherSuites()
// reports, so a token works the same way however a caller spells it.
var opensslAliases = map[string]string{
	"ECDHE-RSA-AES128-GCM-SHA256":   "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256",
	"ECDHE-ECDSA-AES128-GCM-SHA256": "TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256",
	"ECDHE-RSA-AES256-GCM-SHA384":   "TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384",
	"ECDHE-ECDSA-AES256-GCM-SHA384": "TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384",
	"ECDHE-RSA-AES128-SHA":          "TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA",
	"ECDHE-ECDSA-AES128-SHA":        "TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA",
	"ECDHE-RSA-AES256-SHA":          "TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA",
	"ECDHE-ECDSA-AES256-SHA":        "TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA",
	"AES128-GCM-SHA256":             "TLS_RSA_WITH_AES_128_GCM_SHA256",
	"AES256-GCM-SHA384":             "TLS_RSA_WITH_AES_256_GCM_SHA384",
	"AES128-SHA":                    "TLS_RSA_WITH_AES_128_CBC_SHA",
	"AES256-SHA":                    "TLS_RSA_WITH_AES_256_CBC_SHA",
	"DES-CBC3-SHA":                  "TLS_RSA_WITH_3DES_EDE_CBC_SHA",
	"RC4-SHA":                       "TLS_RSA_WITH_RC4_128_SHA",
}

// legacyDefaultCiphers is the default cipher string for legacy mode: an
// ordered OpenSSL-style list, modern ECDHE/DHE GCM and SHA families first,
// then plain-RSA AES, CAMELLIA and 3DES fallbacks, then explicit disables for
// aNULL/eNULL/EXPORT/DES/RC4/MD5/PSK/RC2/3DES. It lists no RC4 suite.
const legacyDefaultCiphers = "ECDHE-RSA-AES128-GCM-SHA256:ECDHE-ECDSA-AES128-GCM-SHA256:" +
	"ECDHE-RSA-AES256-GCM-SHA384:ECDHE-ECDSA-AES256-GCM-SHA384:" +
	"DHE-RSA-AES128-GCM-SHA256:DHE-DSS-AES128-GCM-SHA256:kEDH+AESGCM:" +
	"ECDHE-RSA-AES128-SHA256:ECDHE-ECDSA-AES128-SHA256:" +
	"ECDHE-RSA-AES128-SHA:ECDHE-ECDSA-AES128-SHA:" +
	"ECDHE-RSA-AES256-SHA384:ECDHE-ECDSA-AES256-SHA384:" +
	"ECDHE-RSA-AES256-SHA:ECDHE-ECDSA-AES256-SHA:" +
	"DHE-RSA-AES128-SHA256:DHE-RSA-AES128-SHA:DHE-DSS-AES128-SHA256:" +
	"DHE-RSA-AES256-SHA256:DHE-DSS-AES256-SHA:DHE-RSA-AES256-SHA:" +
	"AES128-GCM-SHA256:AES256-GCM-SHA384:AES128-SHA256:AES256-SHA256:" +
	"AES128-SHA:AES256-SHA:AES:CAMELLIA:DES-CBC3-SHA:" +
	"!aNULL:!eNULL:!EXPORT:!DES:!RC4:!MD5:!PSK:!RC2:!3DES"

// CipherSuiteName resolves a single cipher token — either crypto/tls's own
// spelling (e.g. "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256") or one of the
// OpenSSL-style aliases above — to its crypto/tls ID.
func CipherSuiteName(token string) (uint16, error) {
	if alias, ok := opensslAliases[token]; ok {
		token = alias
	}
	id, ok := cipherSuites[token]
	if !ok {
		return 0, fmt.Errorf("%w: unrecognized cipher %q", errUnknownCipherOption, token)
	}
	return id, nil
}

// legacyCipherSuites resolves legacyDefaultCiphers to the crypto/tls suite
// IDs it has equivalents for, preserving the spec's ordering among the
// survivors and dropping duplicates. crypto/tls has no DHE (non-ECDHE)
// suites, no OpenSSL group syntax ("kEDH+AESGCM", "AES", "CAMELLIA") or
// "!disable" tokens, and TLS 1.3 suites aren't configurable at all — so
// this is a best-effort translation of the legacy default, not a literal
// reproduction of it; see DESIGN.md for what's necessarily left out.
func legacyCipherSuites() []uint16 {
	var ids []uint16
	seen := make(map[uint16]bool)
	for _, tok := range strings.Split(legacyDefaultCiphers, ":") {
		if strings.HasPrefix(tok, "!") {
			continue
		}
		id, err := CipherSuiteName(tok)
		if err != nil {
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// ParseCiphers splits a colon-separated ciphers option string (the same
// separator OpenSSL-style cipher lists use) into a []uint16 crypto/tls will
// accept as CipherSuites. An empty string returns nil, meaning "use
// crypto/tls's own default preference order."
func ParseCiphers(spec string) ([]uint16, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, nil
	}
	var ids []uint16
	for _, tok := range strings.Split(spec, ":") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		id, err := CipherSuiteName(tok)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
