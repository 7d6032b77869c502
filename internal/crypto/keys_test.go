package crypto

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestSharedKeySymmetric(t *testing.T) {
	daemon, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	client, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	daemonSide, err := SharedKey(daemon.Private, client.Public)
	if err != nil {
		t.Fatalf("SharedKey (daemon side): %v", err)
	}
	clientSide, err := SharedKey(client.Private, daemon.Public)
	if err != nil {
		t.Fatalf("SharedKey (client side): %v", err)
	}

	if !bytes.Equal(daemonSide, clientSide) {
		t.Fatal("derived keys differ between the two peers")
	}
}

func TestSharedKeyDiffersForThirdParty(t *testing.T) {
	daemon, _ := GenerateKeyPair()
	client, _ := GenerateKeyPair()
	eavesdropper, _ := GenerateKeyPair()

	legit, _ := SharedKey(client.Private, daemon.Public)
	wrong, _ := SharedKey(eavesdropper.Private, daemon.Public)

	if bytes.Equal(legit, wrong) {
		t.Fatal("an unrelated keypair derived the same shared key")
	}
}

func TestPublicBase64RoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	encoded := kp.PublicBase64()
	decoded, err := DecodePublicKey(encoded)
	if err != nil {
		t.Fatalf("DecodePublicKey: %v", err)
	}
	if decoded != kp.Public {
		t.Fatal("decoded public key does not match original")
	}
}

func TestDecodePublicKeyRejectsWrongLength(t *testing.T) {
	if _, err := DecodePublicKey("dG9vc2hvcnQ="); err == nil {
		t.Fatal("expected error for undersized public key")
	}
}

func TestLoadOrGenerateDaemonKeyPairPersists(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrGenerateDaemonKeyPair(dir)
	if err != nil {
		t.Fatalf("LoadOrGenerateDaemonKeyPair: %v", err)
	}

	second, err := LoadOrGenerateDaemonKeyPair(dir)
	if err != nil {
		t.Fatalf("LoadOrGenerateDaemonKeyPair (reload): %v", err)
	}

	if first.Public != second.Public {
		t.Fatal("reloading the daemon key pair produced a different key")
	}

	if _, err := LoadOrGenerateDaemonKeyPair(filepath.Join(dir, "nested")); err != nil {
		t.Fatalf("LoadOrGenerateDaemonKeyPair (nested dir): %v", err)
	}
}
