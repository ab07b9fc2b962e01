package security

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadClusterSecrets(t *testing.T) {
	_, err := LoadClusterSecrets(nil, []byte("token-secret"))
	require.Error(t, err)

	_, err = LoadClusterSecrets([]byte("cluster-secret"), nil)
	require.Error(t, err)

	cs, err := LoadClusterSecrets([]byte("cluster-secret"), []byte("token-secret"))
	require.NoError(t, err)
	require.NotNil(t, cs)
}

func TestHandshakeRoundTrip(t *testing.T) {
	cs, err := LoadClusterSecrets([]byte("cluster-secret"), []byte("token-secret"))
	require.NoError(t, err)

	challenge := []byte("0123456789012345678901234567890x")
	resp := cs.HandshakeResponse(challenge)
	require.True(t, cs.VerifyHandshake(challenge, resp))

	other, err := LoadClusterSecrets([]byte("different-secret"), []byte("token-secret"))
	require.NoError(t, err)
	require.False(t, other.VerifyHandshake(challenge, resp))
}

func TestTokenMACRoundTrip(t *testing.T) {
	cs, err := LoadClusterSecrets([]byte("cluster-secret"), []byte("token-secret"))
	require.NoError(t, err)

	var id [16]byte
	id[0] = 0xAB
	createdAt := int64(1700000000000000000)

	mac := cs.TokenMAC(id, createdAt)
	require.True(t, cs.VerifyTokenMAC(mac, mac))

	wrongMac := cs.TokenMAC(id, createdAt+1)
	require.False(t, cs.VerifyTokenMAC(mac, wrongMac))
}

func TestEncryptDecryptAtRest(t *testing.T) {
	key := DeriveKey([]byte("passphrase"))
	plaintext := []byte("tokens.log entry")

	ciphertext, err := EncryptAtRest(key, plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, ciphertext)

	decrypted, err := DecryptAtRest(key, ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}

func TestDecryptAtRestWrongKey(t *testing.T) {
	key := DeriveKey([]byte("passphrase"))
	ciphertext, err := EncryptAtRest(key, []byte("secret"))
	require.NoError(t, err)

	_, err = DecryptAtRest(DeriveKey([]byte("other")), ciphertext)
	require.Error(t, err)
}
