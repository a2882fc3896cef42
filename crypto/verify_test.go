package crypto

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func leafWithNames(cn string, sans ...string) *x509.Certificate {
	return &x509.Certificate{
		Subject:  pkix.Name{CommonName: cn},
		DNSNames: sans,
		Raw:      []byte("fake-der-bytes-for-" + cn),
	}
}

func TestNativeVerifierAlwaysPasses(t *testing.T) {
	var v NativeVerifier
	require.NoError(t, v.Verify(leafWithNames("anything"), "whatever", "deadbeef"))
}

func TestManualVerifierExactNameMatch(t *testing.T) {
	leaf := leafWithNames("", "example.com")
	var v ManualVerifier
	require.NoError(t, v.Verify(leaf, "example.com", ""))
}

func TestManualVerifierWildcardMatchesOneLabel(t *testing.T) {
	leaf := leafWithNames("", "*.example.com")
	var v ManualVerifier

	require.NoError(t, v.Verify(leaf, "api.example.com", ""))
	err := v.Verify(leaf, "a.b.example.com", "")
	require.Error(t, err, "wildcard must not match more than one label")
}

func TestManualVerifierNameMismatchFails(t *testing.T) {
	leaf := leafWithNames("", "example.com")
	var v ManualVerifier
	err := v.Verify(leaf, "other.com", "")
	require.Error(t, err)
	require.True(t, errors.Is(err, errVerificationFailed))
}

func TestManualVerifierFingerprintSHA1Matches(t *testing.T) {
	leaf := leafWithNames("example.com")
	sum := sha1.Sum(leaf.Raw)
	want := hex.EncodeToString(sum[:])

	var v ManualVerifier
	require.NoError(t, v.Verify(leaf, "", want))
}

func TestManualVerifierFingerprintMD5Matches(t *testing.T) {
	leaf := leafWithNames("example.com")
	sum := md5.Sum(leaf.Raw)
	want := hex.EncodeToString(sum[:])

	var v ManualVerifier
	require.NoError(t, v.Verify(leaf, "", want))
}

func TestManualVerifierFingerprintWithColonsMatches(t *testing.T) {
	leaf := leafWithNames("example.com")
	sum := sha1.Sum(leaf.Raw)
	hexStr := hex.EncodeToString(sum[:])
	var withColons string
	for i, c := range hexStr {
		if i > 0 && i%2 == 0 {
			withColons += ":"
		}
		withColons += string(c)
	}

	var v ManualVerifier
	require.NoError(t, v.Verify(leaf, "", withColons))
}

func TestManualVerifierFingerprintMismatchFails(t *testing.T) {
	leaf := leafWithNames("example.com")
	var v ManualVerifier
	err := v.Verify(leaf, "", "0000000000000000000000000000000000000000")
	require.Error(t, err)
}

func TestCryptoMethodFromString(t *testing.T) {
	v, err := CryptoMethodFromString("")
	require.NoError(t, err)
	require.Equal(t, uint16(0), v)

	v, err = CryptoMethodFromString("TLSv1_2")
	require.NoError(t, err)
	require.NotZero(t, v)

	_, err = CryptoMethodFromString("bogus")
	require.Error(t, err)
}

func TestParseCiphersEmpty(t *testing.T) {
	ids, err := ParseCiphers("")
	require.NoError(t, err)
	require.Nil(t, ids)
}

func TestParseCiphersUnknownToken(t *testing.T) {
	_, err := ParseCiphers("NOT_A_REAL_CIPHER")
	require.Error(t, err)
}
