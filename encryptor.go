package vault

// encryptor.go defines the field-level encryption contract used by secure
// key handles, the default XOR obfuscator, and an authenticated AES-GCM
// implementation for production use.

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
)

// Encryptor transforms serialized secure values before they reach a store.
// Implementations must be safe for concurrent use after Init.
//
// The async variants exist for implementations backed by remote key
// services; local implementations simply delegate to the Sync forms.
type Encryptor interface {
	// Init prepares the encryptor. Called once during engine Init.
	Init(ctx context.Context) error

	// Encrypt returns the ciphertext for data.
	Encrypt(ctx context.Context, data []byte) ([]byte, error)

	// Decrypt returns the plaintext for data.
	Decrypt(ctx context.Context, data []byte) ([]byte, error)

	// EncryptSync is the synchronous form of Encrypt.
	EncryptSync(data []byte) ([]byte, error)

	// DecryptSync is the synchronous form of Decrypt.
	DecryptSync(data []byte) ([]byte, error)
}

// defaultXORKey is the repeating key used when no Encryptor is configured.
var defaultXORKey = []byte("vault.keep")

// XORCipher obfuscates data by XOR-ing it with a repeating key.
//
// This provides obfuscation only, NOT security: the transform is its own
// inverse and the key is recoverable from known plaintext. Production use
// requires substituting an authenticated implementation such as NewAESGCM.
type XORCipher struct {
	key []byte
}

// NewXORCipher creates an XOR obfuscator with the given repeating key.
func NewXORCipher(key []byte) *XORCipher {
	return &XORCipher{key: key}
}

// Init validates the key.
func (c *XORCipher) Init(ctx context.Context) error {
	if len(c.key) == 0 {
		return fmt.Errorf("vault: xor cipher requires a non-empty key")
	}
	return nil
}

// Encrypt obfuscates data.
func (c *XORCipher) Encrypt(ctx context.Context, data []byte) ([]byte, error) {
	return c.EncryptSync(data)
}

// Decrypt reverses Encrypt.
func (c *XORCipher) Decrypt(ctx context.Context, data []byte) ([]byte, error) {
	return c.DecryptSync(data)
}

// EncryptSync obfuscates data.
func (c *XORCipher) EncryptSync(data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ c.key[i%len(c.key)]
	}
	return out, nil
}

// DecryptSync reverses EncryptSync. XOR is an involution, so the two forms
// are identical.
func (c *XORCipher) DecryptSync(data []byte) ([]byte, error) {
	return c.EncryptSync(data)
}

// AESGCM is an authenticated Encryptor built on AES-256-GCM. The passphrase
// is stretched to a 256-bit key with SHA-256; each ciphertext carries its
// random nonce as a prefix.
type AESGCM struct {
	key  [32]byte
	aead cipher.AEAD
}

// NewAESGCM creates an AES-GCM encryptor from a passphrase.
func NewAESGCM(passphrase []byte) *AESGCM {
	return &AESGCM{key: sha256.Sum256(passphrase)}
}

// Init constructs the AEAD.
func (c *AESGCM) Init(ctx context.Context) error {
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return fmt.Errorf("vault: aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("vault: gcm mode: %w", err)
	}
	c.aead = aead
	return nil
}

// Encrypt seals data under a fresh random nonce.
func (c *AESGCM) Encrypt(ctx context.Context, data []byte) ([]byte, error) {
	return c.EncryptSync(data)
}

// Decrypt opens a ciphertext produced by Encrypt.
func (c *AESGCM) Decrypt(ctx context.Context, data []byte) ([]byte, error) {
	return c.DecryptSync(data)
}

// EncryptSync seals data under a fresh random nonce.
func (c *AESGCM) EncryptSync(data []byte) ([]byte, error) {
	if c.aead == nil {
		return nil, fmt.Errorf("vault: aes-gcm encryptor not initialized")
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("vault: nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, data, nil), nil
}

// DecryptSync opens a ciphertext produced by EncryptSync.
func (c *AESGCM) DecryptSync(data []byte) ([]byte, error) {
	if c.aead == nil {
		return nil, fmt.Errorf("vault: aes-gcm encryptor not initialized")
	}
	if len(data) < c.aead.NonceSize() {
		return nil, fmt.Errorf("vault: ciphertext shorter than nonce")
	}
	nonce, sealed := data[:c.aead.NonceSize()], data[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("vault: open ciphertext: %w", err)
	}
	return plain, nil
}
