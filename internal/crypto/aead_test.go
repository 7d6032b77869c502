package crypto

import (
	"bytes"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	plaintext := []byte("agent_stream payload")
	frame, err := SealFrame(key, plaintext)
	if err != nil {
		t.Fatalf("SealFrame: %v", err)
	}

	got, err := OpenFrame(key, frame)
	if err != nil {
		t.Fatalf("OpenFrame: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestSealProducesFreshNoncePerFrame(t *testing.T) {
	key := make([]byte, 32)
	a, _ := SealFrame(key, []byte("x"))
	b, _ := SealFrame(key, []byte("x"))

	if bytes.Equal(a[:NonceSize], b[:NonceSize]) {
		t.Fatal("two frames reused the same nonce")
	}
}

func TestOpenFrameRejectsTamperedCiphertext(t *testing.T) {
	key := make([]byte, 32)
	frame, err := SealFrame(key, []byte("do not tamper"))
	if err != nil {
		t.Fatalf("SealFrame: %v", err)
	}

	tampered := append([]byte(nil), frame...)
	tampered[len(tampered)-1] ^= 0xFF

	if _, err := OpenFrame(key, tampered); err == nil {
		t.Fatal("expected decrypt failure on tampered frame")
	}
}

func TestOpenFrameRejectsWrongKey(t *testing.T) {
	key1 := make([]byte, 32)
	key2 := make([]byte, 32)
	key2[0] = 1

	frame, err := SealFrame(key1, []byte("secret"))
	if err != nil {
		t.Fatalf("SealFrame: %v", err)
	}

	if _, err := OpenFrame(key2, frame); err == nil {
		t.Fatal("expected decrypt failure with wrong key")
	}
}

func TestOpenFrameRejectsShortFrame(t *testing.T) {
	key := make([]byte, 32)
	if _, err := OpenFrame(key, []byte("short")); err == nil {
		t.Fatal("expected failure on frame shorter than nonce size")
	}
}
