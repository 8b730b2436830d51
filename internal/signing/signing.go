// Package signing implements the agent's HMAC request-signing scheme: the
// same compact-JSON-over-HMAC-SHA256 construction is used both to sign
// outgoing webhook requests and to verify signatures on incoming events.
package signing

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

const (
	// HeaderSignature carries the outgoing/incoming signature value.
	HeaderSignature = "X-Port-Signature"
	// HeaderTimestamp carries the unix-seconds timestamp the signature covers.
	HeaderTimestamp = "X-Port-Timestamp"

	signaturePrefix = "v1,"
)

// CompactJSON marshals v the way the signer and the verifier both require:
// no extra whitespace, and non-ASCII characters left unescaped. encoding/json
// already emits no insignificant whitespace and writes non-ASCII runes as
// raw UTF-8; the only adjustment made is disabling its default HTML
// escaping, so '<', '>' and '&' are written literally instead of as
// Unicode escape sequences.
func CompactJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// json.Encoder.Encode appends a trailing newline; the signature must not
	// include it.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Sign computes the "v1,<base64>" signature for body signed at timestamp
// using secret as the HMAC-SHA256 key.
func Sign(secret, timestamp string, body any) (string, error) {
	payload, err := CompactJSON(body)
	if err != nil {
		return "", fmt.Errorf("signing: encode body: %w", err)
	}
	return signPayload(secret, timestamp, payload), nil
}

// SignRaw computes the "v1,<base64>" signature over an already-serialized
// body, for verification paths that must sign exactly the bytes received.
func SignRaw(secret, timestamp string, rawBody []byte) string {
	return signPayload(secret, timestamp, rawBody)
}

func signPayload(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	sum := mac.Sum(nil)
	return signaturePrefix + base64.StdEncoding.EncodeToString(sum)
}

// Verify reports whether signature is the valid v1 signature of body at
// timestamp under secret.
func Verify(secret, timestamp string, body any, signature string) (bool, error) {
	expected, err := Sign(secret, timestamp, body)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(expected), []byte(signature)), nil
}

// VerifyRaw is the raw-bytes counterpart of Verify.
func VerifyRaw(secret, timestamp string, rawBody []byte, signature string) bool {
	expected := SignRaw(secret, timestamp, rawBody)
	return hmac.Equal([]byte(expected), []byte(signature))
}
