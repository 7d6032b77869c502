package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// NonceSize is the AES-GCM nonce size used for every relay frame.
const NonceSize = 12

// SealFrame encrypts plaintext under key with a fresh random nonce and
// returns a single frame: nonce || ciphertext || tag. A new nonce is drawn
// for every call, per the relay handshake's framing requirement.
func SealFrame(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return sealed, nil
}

// OpenFrame decrypts a frame produced by SealFrame. Decrypt failure
// (tamper, wrong key, truncated frame) terminates the link per the relay
// handshake contract.
func OpenFrame(key, frame []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(frame) < NonceSize {
		return nil, fmt.Errorf("frame shorter than nonce size")
	}

	nonce, ciphertext := frame[:NonceSize], frame[NonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt frame: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}
