// Package crypto implements the relay handshake's key agreement and frame
// encryption: X25519 keypairs, HKDF-SHA256 derivation, and AES-256-GCM
// framing.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"crypto/sha256"
)

const (
	// KeySize is the X25519 key size in bytes.
	KeySize = 32
	// daemonKeyFile is the filename of the daemon's persisted X25519 private key.
	daemonKeyFile = "relay.key"
)

// KeyPair is an X25519 key pair used for the relay handshake.
type KeyPair struct {
	Private [KeySize]byte
	Public  [KeySize]byte
}

// GenerateKeyPair creates a fresh random X25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	var priv [KeySize]byte
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}
	return keyPairFromPrivate(priv)
}

func keyPairFromPrivate(priv [KeySize]byte) (*KeyPair, error) {
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	var pubArr [KeySize]byte
	copy(pubArr[:], pub)
	return &KeyPair{Private: priv, Public: pubArr}, nil
}

// PublicBase64 returns the public key, base64-standard-encoded, as sent in
// the `hello` frame / QR bootstrap payload.
func (k *KeyPair) PublicBase64() string {
	return base64.StdEncoding.EncodeToString(k.Public[:])
}

// DecodePublicKey parses a base64-encoded X25519 public key.
func DecodePublicKey(encoded string) ([KeySize]byte, error) {
	var out [KeySize]byte
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return out, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != KeySize {
		return out, fmt.Errorf("public key must be %d bytes, got %d", KeySize, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// SharedKey performs X25519(priv, peerPub) followed by HKDF-SHA256 to
// derive a 32-byte AES-256-GCM key. Both peers derive the same key from
// their own private key and the other's public key.
func SharedKey(priv [KeySize]byte, peerPub [KeySize]byte) ([]byte, error) {
	secret, err := curve25519.X25519(priv[:], peerPub[:])
	if err != nil {
		return nil, fmt.Errorf("compute shared secret: %w", err)
	}

	hk := hkdf.New(sha256.New, secret, nil, []byte("paseo-relay-v2"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(hk, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// LoadOrGenerateDaemonKeyPair loads the daemon's persisted relay key pair
// from paseoHome, generating and persisting one on first run. The key file
// is written with 0600 permissions, the directory with 0700.
func LoadOrGenerateDaemonKeyPair(paseoHome string) (*KeyPair, error) {
	keyPath := filepath.Join(paseoHome, daemonKeyFile)

	data, err := os.ReadFile(keyPath)
	if err == nil && len(data) == KeySize {
		var priv [KeySize]byte
		copy(priv[:], data)
		return keyPairFromPrivate(priv)
	}

	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(paseoHome, 0700); err != nil {
		return nil, fmt.Errorf("create paseo home: %w", err)
	}
	if err := os.WriteFile(keyPath, kp.Private[:], 0600); err != nil {
		return nil, fmt.Errorf("persist relay key: %w", err)
	}

	return kp, nil
}
