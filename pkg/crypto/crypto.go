// Package crypto provides the asymmetric sealed-box primitives clients use
// for private messages, plus session token helpers. The server itself never
// holds private-message key material; ciphertext produced here crosses the
// relay as opaque bytes.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"
)

var ErrDecryptionFailed = errors.New("crypto: decryption failed")

// GenerateKeyPair creates a Curve25519 key pair for sealed-box messaging.
func GenerateKeyPair() (publicKey, privateKey *[32]byte, err error) {
	publicKey, privateKey, err = box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: generate key pair: %w", err)
	}
	return publicKey, privateKey, nil
}

// Seal encrypts a message to the recipient's public key as an anonymous
// sealed box. Only the holder of the matching private key can open it.
func Seal(message []byte, recipientPub *[32]byte) ([]byte, error) {
	out, err := box.SealAnonymous(nil, message, recipientPub, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: seal: %w", err)
	}
	return out, nil
}

// Open decrypts a sealed box with the recipient's key pair.
func Open(ciphertext []byte, recipientPub, recipientPriv *[32]byte) ([]byte, error) {
	out, ok := box.OpenAnonymous(nil, ciphertext, recipientPub, recipientPriv)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return out, nil
}

// GenerateToken generates a random session token string (32 bytes, hex).
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("crypto: generate token: %w", err)
	}
	return fmt.Sprintf("%x", b), nil
}

// HashToken hashes a raw token string with SHA-256 for storage.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", h[:])
}
