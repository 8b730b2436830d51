package signing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	body := map[string]any{"hello": "world", "n": 3}
	sig, err := Sign("s3cret", "1700000000", body)
	require.NoError(t, err)
	require.Contains(t, sig, signaturePrefix)

	ok, err := Verify("s3cret", "1700000000", body, sig)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyFailsOnTamperedBody(t *testing.T) {
	body := map[string]any{"hello": "world"}
	sig, err := Sign("s3cret", "1700000000", body)
	require.NoError(t, err)

	tampered := map[string]any{"hello": "w0rld"}
	ok, err := Verify("s3cret", "1700000000", tampered, sig)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyFailsOnTamperedTimestamp(t *testing.T) {
	body := map[string]any{"hello": "world"}
	sig, err := Sign("s3cret", "1700000000", body)
	require.NoError(t, err)

	ok, err := Verify("s3cret", "1700000001", body, sig)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCompactJSONDoesNotEscapeNonASCII(t *testing.T) {
	out, err := CompactJSON(map[string]any{"greeting": "héllo"})
	require.NoError(t, err)
	require.Contains(t, string(out), "héllo")
	require.NotContains(t, string(out), "\\u00e9")
}
