package transform

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"log"
	"testing"

	"github.com/stretchr/testify/require"
)

func encryptForTest(t *testing.T, plaintext string, key []byte) string {
	t.Helper()
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	gcm, err := cipher.NewGCMWithNonceSize(block, ivLen)
	require.NoError(t, err)

	iv := make([]byte, ivLen)
	_, err = rand.Read(iv)
	require.NoError(t, err)

	ciphertext := gcm.Seal(nil, iv, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(append(iv, ciphertext...))
}

func TestDecryptFieldsInPlaceDecryptsMatchingPath(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef-extra"
	key := keyFromSecret(secret)
	encoded := encryptForTest(t, "top-secret", key)

	doc := map[string]any{"payload": map[string]any{"properties": map[string]any{"token": encoded}}}
	decryptFieldsInPlace(doc, []string{"payload.properties.token"}, secret, log.Default())

	got := doc["payload"].(map[string]any)["properties"].(map[string]any)["token"]
	require.Equal(t, "top-secret", got)
}

func TestDecryptFieldsInPlaceLeavesValueOnWrongKey(t *testing.T) {
	rightSecret := "0123456789abcdef0123456789abcdef"
	wrongSecret := "ffffffffffffffffffffffffffffffff"
	encoded := encryptForTest(t, "top-secret", keyFromSecret(rightSecret))

	doc := map[string]any{"token": encoded}
	decryptFieldsInPlace(doc, []string{"token"}, wrongSecret, log.Default())

	require.Equal(t, encoded, doc["token"])
}

func TestDecryptFieldsInPlaceSkipsMissingPath(t *testing.T) {
	doc := map[string]any{"a": "b"}
	require.NotPanics(t, func() {
		decryptFieldsInPlace(doc, []string{"missing.path"}, "secret", log.Default())
	})
}
