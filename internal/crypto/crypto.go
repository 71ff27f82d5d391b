package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const keySize = 32

var hkdfInfo = []byte("peerchat session v1")

// Encrypt encrypts plaintext using AES-GCM with the given key.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts ciphertext using AES-GCM with the given key.
func Decrypt(ciphertext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce, actualCiphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return gcm.Open(nil, nonce, actualCiphertext, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// KeyExchange is the outcome of a handshake.
type KeyExchange struct {
	SessionKey    []byte
	PublicKey     []byte
	PeerPublicKey []byte
}

// PerformKeyExchange performs a Curve25519 key exchange and derives the
// session key with HKDF-SHA256. The initiator writes its public key first.
func PerformKeyExchange(conn io.ReadWriter, isInitiator bool) (*KeyExchange, error) {
	var privateKey, publicKey [keySize]byte
	if _, err := rand.Read(privateKey[:]); err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	curve25519.ScalarBaseMult(&publicKey, &privateKey)

	var theirPublicKey [keySize]byte
	if isInitiator {
		if _, err := conn.Write(publicKey[:]); err != nil {
			return nil, fmt.Errorf("failed to send public key: %w", err)
		}
		if _, err := io.ReadFull(conn, theirPublicKey[:]); err != nil {
			return nil, fmt.Errorf("failed to receive public key: %w", err)
		}
	} else {
		if _, err := io.ReadFull(conn, theirPublicKey[:]); err != nil {
			return nil, fmt.Errorf("failed to receive public key: %w", err)
		}
		if _, err := conn.Write(publicKey[:]); err != nil {
			return nil, fmt.Errorf("failed to send public key: %w", err)
		}
	}

	shared, err := curve25519.X25519(privateKey[:], theirPublicKey[:])
	if err != nil {
		return nil, fmt.Errorf("failed to compute shared key: %w", err)
	}

	// Both sides salt with the keys in initiator-first order.
	salt := make([]byte, 0, 2*keySize)
	if isInitiator {
		salt = append(append(salt, publicKey[:]...), theirPublicKey[:]...)
	} else {
		salt = append(append(salt, theirPublicKey[:]...), publicKey[:]...)
	}

	sessionKey := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, hkdfInfo), sessionKey); err != nil {
		return nil, fmt.Errorf("failed to derive session key: %w", err)
	}

	return &KeyExchange{
		SessionKey:    sessionKey,
		PublicKey:     publicKey[:],
		PeerPublicKey: theirPublicKey[:],
	}, nil
}

// Fingerprint returns a short hex digest of a public key for out-of-band comparison.
func Fingerprint(publicKey []byte) string {
	hash := sha256.Sum256(publicKey)
	return fmt.Sprintf("%x", hash[:8])
}
