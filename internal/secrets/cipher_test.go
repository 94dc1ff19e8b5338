package secrets_test

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/martiola68/studio-manager-pro-sub002/internal/secrets"
)

const testKeyHex = "8f2a1c4e6b0d3f5a7c9e1b3d5f7a9c0e2b4d6f8a0c2e4b6d8f0a2c4e6b8d0f2a"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	cipher, err := secrets.NewCipher(testKeyHex)
	require.NoError(t, err)

	for _, plaintext := range []string{"", "s", "client-secret-value", strings.Repeat("x", 4096), "già perché 日本"} {
		envelope, err := cipher.Encrypt(plaintext)
		require.NoError(t, err)

		decrypted, err := cipher.Decrypt(envelope)
		require.NoError(t, err)
		require.Equal(t, plaintext, decrypted)
	}
}

func TestEmptyPlaintextSealsToTagOnlyEnvelope(t *testing.T) {
	cipher, err := secrets.NewCipher(testKeyHex)
	require.NoError(t, err)

	envelope, err := cipher.Encrypt("")
	require.NoError(t, err)

	// The ciphertext field is empty; only nonce and tag carry data.
	parts := strings.Split(envelope, ":")
	require.Len(t, parts, 3)
	require.Empty(t, parts[2])
	require.True(t, secrets.IsEncrypted(envelope))

	decrypted, err := cipher.Decrypt(envelope)
	require.NoError(t, err)
	require.Empty(t, decrypted)
}

func TestEncryptProducesFreshNonces(t *testing.T) {
	cipher, err := secrets.NewCipher(testKeyHex)
	require.NoError(t, err)

	first, err := cipher.Encrypt("same plaintext")
	require.NoError(t, err)
	second, err := cipher.Encrypt("same plaintext")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestDecryptDetectsTampering(t *testing.T) {
	cipher, err := secrets.NewCipher(testKeyHex)
	require.NoError(t, err)

	envelope, err := cipher.Encrypt("payload that must not survive tampering")
	require.NoError(t, err)

	parts := strings.Split(envelope, ":")
	require.Len(t, parts, 3)

	// Flip one bit in the tag and in the ciphertext; both must fail closed.
	for _, idx := range []int{1, 2} {
		raw, err := hex.DecodeString(parts[idx])
		require.NoError(t, err)
		raw[0] ^= 0x01

		mutated := make([]string, 3)
		copy(mutated, parts)
		mutated[idx] = hex.EncodeToString(raw)

		_, err = cipher.Decrypt(strings.Join(mutated, ":"))
		require.ErrorIs(t, err, secrets.ErrDecryptionFailed)
	}
}

func TestDecryptWithWrongKey(t *testing.T) {
	cipher, err := secrets.NewCipher(testKeyHex)
	require.NoError(t, err)
	other, err := secrets.NewCipher(strings.Repeat("ab", 32))
	require.NoError(t, err)

	envelope, err := cipher.Encrypt("secret")
	require.NoError(t, err)

	_, err = other.Decrypt(envelope)
	require.ErrorIs(t, err, secrets.ErrDecryptionFailed)
}

func TestIsEncrypted(t *testing.T) {
	cipher, err := secrets.NewCipher(testKeyHex)
	require.NoError(t, err)

	envelope, err := cipher.Encrypt("value")
	require.NoError(t, err)
	require.True(t, secrets.IsEncrypted(envelope))

	require.False(t, secrets.IsEncrypted("plaintext-looking-string"))
	require.False(t, secrets.IsEncrypted("a:b"))
	require.False(t, secrets.IsEncrypted("a:b:c:d"))
	// Right shape, wrong field lengths.
	require.False(t, secrets.IsEncrypted("abcd:abcd:abcd"))
}

func TestNewCipherRejectsBadKeys(t *testing.T) {
	_, err := secrets.NewCipher("")
	require.Error(t, err)

	_, err = secrets.NewCipher("deadbeef")
	require.Error(t, err)

	_, err = secrets.NewCipher(strings.Repeat("zz", 32))
	require.Error(t, err)
}
