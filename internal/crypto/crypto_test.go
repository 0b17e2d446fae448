package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptSecret(t *testing.T) {
	blob, err := EncryptSecret("super-secret-api-key", "correct horse")
	require.NoError(t, err)

	out, err := DecryptSecret(blob, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "super-secret-api-key", out)
}

func TestDecryptSecretWrongPassword(t *testing.T) {
	blob, err := EncryptSecret("super-secret-api-key", "correct horse")
	require.NoError(t, err)

	_, err = DecryptSecret(blob, "battery staple")
	assert.Error(t, err)
}

func TestEncryptSecretRequiresInputs(t *testing.T) {
	_, err := EncryptSecret("", "pw")
	assert.Error(t, err)
	_, err = EncryptSecret("secret", "")
	assert.Error(t, err)
}

func TestLoadSecretPrecedence(t *testing.T) {
	got, err := LoadSecret(SecretConfig{RawSecret: "raw-wins"})
	require.NoError(t, err)
	assert.Equal(t, "raw-wins", got)

	blob, err := EncryptSecret("from-file", "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadSecret(SecretConfig{EncryptedPath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "from-file", got)

	_, err = LoadSecret(SecretConfig{})
	assert.Error(t, err)
}

func TestHeadersAtDeterministic(t *testing.T) {
	auth := &HMACAuth{
		Key:        "key-1",
		Secret:     "c2VjcmV0LWJ5dGVz", // base64("secret-bytes")
		Passphrase: "pass",
	}

	h1 := auth.HeadersAt("POST", "/order", `{"a":1}`, 1700000000)
	h2 := auth.HeadersAt("POST", "/order", `{"a":1}`, 1700000000)
	assert.Equal(t, h1, h2)

	assert.Equal(t, "key-1", h1["POLY_API_KEY"])
	assert.Equal(t, "1700000000", h1["POLY_TIMESTAMP"])
	assert.Equal(t, "pass", h1["POLY_PASSPHRASE"])
	assert.NotEmpty(t, h1["POLY_SIGNATURE"])

	// Any input change must change the signature.
	h3 := auth.HeadersAt("DELETE", "/order", `{"a":1}`, 1700000000)
	assert.NotEqual(t, h1["POLY_SIGNATURE"], h3["POLY_SIGNATURE"])
}

func TestHMACAuthStringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "abcdefgh", Secret: "12345678"}
	s := auth.String()
	assert.NotContains(t, s, "abcdefgh")
	assert.NotContains(t, s, "12345678")
	assert.Contains(t, s, "abcd****")
}
