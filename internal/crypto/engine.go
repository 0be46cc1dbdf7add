package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	protocolVersion = "clinivo-e2e-v1"
	// KeySize is the size of X25519 keys and payload keys.
	KeySize   = 32
	nonceSize = chacha20poly1305.NonceSize
)

// ErrDecryptFailed is returned when either the key unwrap or the payload
// integrity check fails. The engine fails closed: no partial plaintext is
// ever returned.
var ErrDecryptFailed = errors.New("decryption failed: wrong key or tampered ciphertext")

// ErrNoRecipientKey is returned when the envelope holds no wrapped key the
// given private key can open.
var ErrNoRecipientKey = errors.New("no wrapped key for this recipient")

// WrappedKey carries one message key encrypted to one recipient.
type WrappedKey struct {
	// Recipient is the fingerprint of the recipient's public key, used to
	// pick the right entry without trial decryption.
	Recipient string `json:"recipient"`
	Ephemeral []byte `json:"ephemeral"`
	Nonce     []byte `json:"nonce"`
	Key       []byte `json:"key"`
}

// Envelope is the encrypted, self-contained representation of one message:
// the payload ciphertext plus one wrapped key per intended recipient. It is
// useless without at least one recipient's private key.
type Envelope struct {
	Ciphertext []byte       `json:"ciphertext"`
	Nonce      []byte       `json:"nonce"`
	Keys       []WrappedKey `json:"keys"`
}

// Engine implements hybrid message encryption: the payload is encrypted once
// under a fresh symmetric key, and that key is wrapped once per recipient via
// ephemeral X25519 ECDH. Adding a recipient never requires re-encrypting the
// payload, and the expensive asymmetric work is independent of payload size.
type Engine struct{}

// NewEngine creates a new encryption engine.
func NewEngine() *Engine {
	return &Engine{}
}

// GenerateKeyPair generates an X25519 key pair for a recipient.
func GenerateKeyPair() (pub, priv []byte, err error) {
	priv = make([]byte, KeySize)
	if _, err := rand.Read(priv); err != nil {
		return nil, nil, err
	}
	pub, err = curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

// Fingerprint returns a stable identifier for a public key.
func Fingerprint(pub []byte) string {
	sum := sha256.Sum256(pub)
	return base64.RawURLEncoding.EncodeToString(sum[:16])
}

// GenerateMessageKey returns a fresh random symmetric key. Keys are never
// reused across messages.
func (e *Engine) GenerateMessageKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt encrypts plaintext once under a fresh message key and wraps that
// key for every recipient public key. Output size scales with recipient
// count, not plaintext size.
func (e *Engine) Encrypt(plaintext []byte, recipientPublicKeys [][]byte) (*Envelope, error) {
	if len(recipientPublicKeys) == 0 {
		return nil, fmt.Errorf("at least one recipient public key is required")
	}

	msgKey, err := e.GenerateMessageKey()
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(msgKey)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	env := &Envelope{
		Ciphertext: aead.Seal(nil, nonce, plaintext, nil),
		Nonce:      nonce,
	}

	for _, pub := range recipientPublicKeys {
		if len(pub) != KeySize {
			return nil, fmt.Errorf("invalid recipient public key length: %d, expected %d", len(pub), KeySize)
		}
		wk, err := wrapKey(msgKey, pub)
		if err != nil {
			return nil, err
		}
		env.Keys = append(env.Keys, *wk)
	}
	return env, nil
}

// Decrypt unwraps the message key using the recipient's private key and
// decrypts the payload. It fails closed if either integrity check fails.
func (e *Engine) Decrypt(env *Envelope, privateKey []byte) ([]byte, error) {
	if len(privateKey) != KeySize {
		return nil, fmt.Errorf("invalid private key length: %d, expected %d", len(privateKey), KeySize)
	}
	ownPub, err := curve25519.X25519(privateKey, curve25519.Basepoint)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	fp := Fingerprint(ownPub)

	// Prefer the entry addressed to us; fall back to trying every entry so
	// envelopes from senders with a stale fingerprint scheme still open.
	candidates := make([]WrappedKey, 0, len(env.Keys))
	for _, wk := range env.Keys {
		if wk.Recipient == fp {
			candidates = append(candidates, wk)
		}
	}
	if len(candidates) == 0 {
		candidates = env.Keys
	}

	for _, wk := range candidates {
		msgKey, err := unwrapKey(&wk, privateKey, ownPub)
		if err != nil {
			continue
		}
		aead, err := chacha20poly1305.New(msgKey)
		if err != nil {
			continue
		}
		plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
		if err != nil {
			continue
		}
		return plaintext, nil
	}
	if len(env.Keys) == 0 {
		return nil, ErrNoRecipientKey
	}
	return nil, ErrDecryptFailed
}

// wrapKey encrypts the message key to one recipient using an ephemeral
// X25519 exchange and a key derived via HKDF-SHA256.
func wrapKey(msgKey, recipientPub []byte) (*WrappedKey, error) {
	ephPriv := make([]byte, KeySize)
	if _, err := rand.Read(ephPriv); err != nil {
		return nil, err
	}
	ephPub, err := curve25519.X25519(ephPriv, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	shared, err := curve25519.X25519(ephPriv, recipientPub)
	if err != nil {
		return nil, err
	}
	wrapKey, err := deriveKey(shared, ephPub, recipientPub)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(wrapKey)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return &WrappedKey{
		Recipient: Fingerprint(recipientPub),
		Ephemeral: ephPub,
		Nonce:     nonce,
		Key:       aead.Seal(nil, nonce, msgKey, nil),
	}, nil
}

// unwrapKey reverses wrapKey with the recipient's private key.
func unwrapKey(wk *WrappedKey, priv, ownPub []byte) ([]byte, error) {
	shared, err := curve25519.X25519(priv, wk.Ephemeral)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	key, err := deriveKey(shared, wk.Ephemeral, ownPub)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	msgKey, err := aead.Open(nil, wk.Nonce, wk.Key, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return msgKey, nil
}

// deriveKey derives a key-wrapping key using HKDF-SHA256.
func deriveKey(sharedSecret, ephemeralPub, recipientPub []byte) ([]byte, error) {
	salt := make([]byte, 0, len(ephemeralPub)+len(recipientPub))
	salt = append(salt, ephemeralPub...)
	salt = append(salt, recipientPub...)

	hkdfReader := hkdf.New(sha256.New, sharedSecret, salt, []byte(protocolVersion))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		return nil, err
	}
	return key, nil
}
