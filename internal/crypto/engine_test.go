package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	e := NewEngine()
	pub, priv, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	plaintext := []byte("lab results are ready for review")
	env, err := e.Encrypt(plaintext, [][]byte{pub})
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	got, err := e.Decrypt(env, priv)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("plaintext = %q, want %q", got, plaintext)
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	e := NewEngine()
	pub, _, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	_, otherPriv, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	env, err := e.Encrypt([]byte("confidential"), [][]byte{pub})
	if err != nil {
		t.Fatal(err)
	}

	got, err := e.Decrypt(env, otherPriv)
	if err == nil {
		t.Fatalf("Decrypt() with wrong key returned %q, want error", got)
	}
	if got != nil {
		t.Error("Decrypt() must not return partial plaintext on failure")
	}
}

func TestOneWrappedKeyPerRecipient(t *testing.T) {
	e := NewEngine()
	var pubs [][]byte
	var privs [][]byte
	for range 3 {
		pub, priv, err := GenerateKeyPair()
		if err != nil {
			t.Fatal(err)
		}
		pubs = append(pubs, pub)
		privs = append(privs, priv)
	}

	plaintext := []byte("group update")
	env, err := e.Encrypt(plaintext, pubs)
	if err != nil {
		t.Fatal(err)
	}
	if len(env.Keys) != 3 {
		t.Fatalf("got %d wrapped keys, want 3 (one per recipient)", len(env.Keys))
	}

	// Every recipient can open the same envelope.
	for i, priv := range privs {
		got, err := e.Decrypt(env, priv)
		if err != nil {
			t.Fatalf("recipient %d: Decrypt() error = %v", i, err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Errorf("recipient %d: plaintext = %q", i, got)
		}
	}
}

func TestTamperedCiphertextFails(t *testing.T) {
	e := NewEngine()
	pub, priv, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	env, err := e.Encrypt([]byte("hello"), [][]byte{pub})
	if err != nil {
		t.Fatal(err)
	}

	env.Ciphertext[0] ^= 0xff
	if _, err := e.Decrypt(env, priv); !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("tampered ciphertext: err = %v, want ErrDecryptFailed", err)
	}
}

func TestTamperedWrappedKeyFails(t *testing.T) {
	e := NewEngine()
	pub, priv, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	env, err := e.Encrypt([]byte("hello"), [][]byte{pub})
	if err != nil {
		t.Fatal(err)
	}

	env.Keys[0].Key[0] ^= 0xff
	if _, err := e.Decrypt(env, priv); err == nil {
		t.Error("tampered wrapped key should fail decryption")
	}
}

func TestMessageKeysAreUnique(t *testing.T) {
	e := NewEngine()
	k1, err := e.GenerateMessageKey()
	if err != nil {
		t.Fatal(err)
	}
	k2, err := e.GenerateMessageKey()
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(k1, k2) {
		t.Error("consecutive message keys must differ")
	}
	if len(k1) != KeySize {
		t.Errorf("key size = %d, want %d", len(k1), KeySize)
	}
}

func TestEnvelopesDifferForSamePlaintext(t *testing.T) {
	e := NewEngine()
	pub, _, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	env1, err := e.Encrypt([]byte("same"), [][]byte{pub})
	if err != nil {
		t.Fatal(err)
	}
	env2, err := e.Encrypt([]byte("same"), [][]byte{pub})
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(env1.Ciphertext, env2.Ciphertext) {
		t.Error("fresh key and nonce per message: ciphertexts must differ")
	}
}

func TestEncryptRequiresRecipients(t *testing.T) {
	e := NewEngine()
	if _, err := e.Encrypt([]byte("x"), nil); err == nil {
		t.Error("Encrypt() without recipients should fail")
	}
}

func TestFingerprintStable(t *testing.T) {
	pub, _, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	if Fingerprint(pub) != Fingerprint(pub) {
		t.Error("fingerprint must be deterministic")
	}
}
