package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"
)

// ClusterSecrets holds the two process-wide, read-only-after-startup
// shared secrets described by spec.md §9 ("Global state"): the cluster
// secret, used by the transport handshake, and the token secret, used to
// MAC client-visible token strings. Neither is ever gossiped.
type ClusterSecrets struct {
	clusterSecret []byte
	tokenSecret   []byte
}

// LoadClusterSecrets builds an immutable secrets holder from
// configuration-supplied byte strings. Both must be non-empty.
func LoadClusterSecrets(clusterSecret, tokenSecret []byte) (*ClusterSecrets, error) {
	if len(clusterSecret) == 0 {
		return nil, fmt.Errorf("cluster secret must not be empty")
	}
	if len(tokenSecret) == 0 {
		return nil, fmt.Errorf("token secret must not be empty")
	}
	cs := &ClusterSecrets{
		clusterSecret: append([]byte(nil), clusterSecret...),
		tokenSecret:   append([]byte(nil), tokenSecret...),
	}
	return cs, nil
}

// HandshakeResponse computes HMAC-SHA256(cluster_secret, challenge), the
// transport's challenge/response value (spec.md §6).
func (cs *ClusterSecrets) HandshakeResponse(challenge []byte) []byte {
	mac := hmac.New(sha256.New, cs.clusterSecret)
	mac.Write(challenge)
	return mac.Sum(nil)
}

// VerifyHandshake checks a peer's HMAC response against the challenge
// using a timing-safe comparison.
func (cs *ClusterSecrets) VerifyHandshake(challenge, response []byte) bool {
	want := cs.HandshakeResponse(challenge)
	return subtle.ConstantTimeCompare(want, response) == 1
}

// TokenMAC computes HMAC-SHA256(token_secret, id || created_at_unix_be)
// per the materialized token string format (spec.md §3, §6).
func (cs *ClusterSecrets) TokenMAC(id [16]byte, createdAtUnixNano int64) []byte {
	mac := hmac.New(sha256.New, cs.tokenSecret)
	mac.Write(id[:])
	var ts [8]byte
	putUint64BE(ts[:], uint64(createdAtUnixNano))
	mac.Write(ts[:])
	return mac.Sum(nil)
}

// VerifyTokenMAC performs a timing-safe comparison of a presented MAC
// against the expected one.
func (cs *ClusterSecrets) VerifyTokenMAC(expected, presented []byte) bool {
	return subtle.ConstantTimeCompare(expected, presented) == 1
}

func putUint64BE(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

// EncryptAtRest encrypts plaintext with AES-256-GCM under the given
// 32-byte key, prepending the nonce. pkg/storage does not call it;
// BoltStore writes token-log records as plain JSON.
func EncryptAtRest(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptAtRest reverses EncryptAtRest.
func DecryptAtRest(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ct := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// DeriveKey derives a 32-byte AES-256 key from an arbitrary-length
// passphrase (e.g. the cluster secret, when used to encrypt local state).
func DeriveKey(passphrase []byte) []byte {
	sum := sha256.Sum256(passphrase)
	return sum[:]
}
