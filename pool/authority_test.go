package pool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalizeAuthorityLowercasesHost(t *testing.T) {
	require.Equal(t, "example.com:443", canonicalizeAuthority("EXAMPLE.com:443"))
}

func TestCanonicalizeAuthorityLeavesUnixSchemeAlone(t *testing.T) {
	require.Equal(t, "unix:///Tmp/Sock", canonicalizeAuthority("unix:///Tmp/Sock"))
}

func TestCanonicalizeAuthorityPunycodeMatchesASCII(t *testing.T) {
	a := canonicalizeAuthority("café.example:443")
	b := canonicalizeAuthority("xn--caf-dma.example:443")
	require.Equal(t, b, a)
}

func TestCanonicalizeAuthorityWithoutPort(t *testing.T) {
	require.Equal(t, "example.com", canonicalizeAuthority("Example.Com"))
}
