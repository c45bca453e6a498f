package jose

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyAlgorithm(t *testing.T) {
	ecKey, err := NewSigner(KeyTypeECDSA)
	require.NoError(t, err)
	alg, err := KeyAlgorithm(ecKey.Public())
	require.NoError(t, err)
	require.Equal(t, "ES256", string(alg))

	rsaKey, err := NewSigner(KeyTypeRSA)
	require.NoError(t, err)
	alg, err = KeyAlgorithm(rsaKey.Public())
	require.NoError(t, err)
	require.Equal(t, "RS256", string(alg))
}

func TestKeyAuthorization(t *testing.T) {
	key, err := NewSigner(KeyTypeECDSA)
	require.NoError(t, err)

	ka, err := KeyAuthorization(key.Public(), "abc")
	require.NoError(t, err)
	require.Contains(t, ka, "abc.")

	thumb, err := Thumbprint(key.Public())
	require.NoError(t, err)
	require.Equal(t, "abc."+thumb, ka)
}

func TestToACEIdempotent(t *testing.T) {
	cases := []string{
		"Example.COM",
		"  example.com  ",
		"*.example.com",
		"münchen.example",
	}
	for _, c := range cases {
		ace, err := ToACE(c)
		require.NoError(t, err)
		ace2, err := ToACE(ace)
		require.NoError(t, err)
		require.Equal(t, ace, ace2)
	}
}

func TestToACEIdeographicDot(t *testing.T) {
	ace, err := ToACE("example。com")
	require.NoError(t, err)
	require.Equal(t, "example.com", ace)
}

func TestParseTimestampRoundTrip(t *testing.T) {
	cases := []string{
		"2021-01-01T00:00:00Z",
		"2021-01-01T00:00:00.1Z",
		"2021-01-01T00:00:00.123456789Z",
		"2021-01-01T00:00:00+02:00",
	}
	for _, c := range cases {
		ts, err := ParseTimestamp(c)
		require.NoError(t, err)
		reparsed, err := ParseTimestamp(FormatTimestamp(ts))
		require.NoError(t, err)
		require.True(t, ts.Equal(reparsed))
	}
}

func TestParseTimestampInvalid(t *testing.T) {
	_, err := ParseTimestamp("not-a-time")
	require.Error(t, err)
}

func TestStripErrorPrefix(t *testing.T) {
	kind, ok := StripErrorPrefix("urn:ietf:params:acme:error:badNonce")
	require.True(t, ok)
	require.Equal(t, "badNonce", kind)

	kind, ok = StripErrorPrefix("urn:acme:error:malformed")
	require.True(t, ok)
	require.Equal(t, "malformed", kind)

	_, ok = StripErrorPrefix("urn:ietf:params:other:error:x")
	require.False(t, ok)
}

func TestThumbprintStableAcrossRollover(t *testing.T) {
	key, err := NewSigner(KeyTypeECDSA)
	require.NoError(t, err)
	tp1, err := Thumbprint(key.Public())
	require.NoError(t, err)

	// key rollover never changes the thumbprint of the *old* key; it
	// computes a fresh thumbprint for the *new* key instead. What must be
	// stable is that re-deriving the thumbprint for the same key is
	// deterministic, regardless of how much time passes.
	time.Sleep(time.Millisecond)
	tp2, err := Thumbprint(key.Public())
	require.NoError(t, err)
	require.Equal(t, tp1, tp2)
}
