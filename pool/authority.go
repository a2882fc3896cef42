package pool

import (
	"strings"

	"golang.org/x/net/idna"
)

// canonicalizeAuthority implements spec.md §6's "lowercase unless Unix
// scheme" authority rule, extended with golang.org/x/net/idna so
// internationalized hostnames still canonicalize to one consistent form
// before being used as the slots/pending/queue map key — two requests for
// "café.example:443" and "XN--CAF-DMA.EXAMPLE:443" must land on the same
// pool entry.
func canonicalizeAuthority(authority string) string {
	if strings.HasPrefix(authority, "unix://") {
		return authority
	}

	host, rest, _ := strings.Cut(authority, ":")
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		// not a valid IDNA label (e.g. a bare IP literal): fall back to a
		// plain lowercase of the original host rather than rejecting it.
		ascii = strings.ToLower(host)
	}
	if rest == "" {
		return ascii
	}
	return ascii + ":" + rest
}
