package sessioncrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"sort"
	"strings"

	"github.com/dashborion/dashborion/pkg/autherr"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// NonceSize is the per-call random nonce length in bytes.
	NonceSize = 16

	blobVersion = 0x01
)

// Context identifies the purpose of a ciphertext. It is canonicalized and
// bound into the authentication tag, so decrypting with a different context
// fails even with the right key.
type Context map[string]string

// canonical renders the context deterministically: keys sorted, key/value
// pairs joined with unambiguous separators.
func (c Context) canonical() []byte {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%d:%s=%d:%s;", len(k), k, len(c[k]), c[k])
	}
	return []byte(b.String())
}

// Sealer performs authenticated encryption with a process-lifetime key.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer creates a Sealer from 32 bytes of key material. The key is loaded
// once per process via a KeySource and must never be logged.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: session key must be %d bytes, got %d",
			autherr.ErrConfigurationError, KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", autherr.ErrConfigurationError, err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", autherr.ErrConfigurationError, err)
	}

	return &Sealer{aead: aead}, nil
}

// Encrypt seals plaintext under the given context. The returned blob is
// version || nonce || ciphertext+tag.
func (s *Sealer) Encrypt(plaintext []byte, ctx Context) ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	blob := make([]byte, 0, 1+NonceSize+len(plaintext)+s.aead.Overhead())
	blob = append(blob, blobVersion)
	blob = append(blob, nonce...)
	blob = s.aead.Seal(blob, nonce, plaintext, ctx.canonical())
	return blob, nil
}

// Decrypt opens a blob produced by Encrypt with the same context. Any
// failure (bad tag, wrong context, truncated or corrupted input) returns
// ErrTamperDetected with no further detail and no partial plaintext.
func (s *Sealer) Decrypt(blob []byte, ctx Context) ([]byte, error) {
	if len(blob) < 1+NonceSize+s.aead.Overhead() || blob[0] != blobVersion {
		return nil, autherr.ErrTamperDetected
	}

	nonce := blob[1 : 1+NonceSize]
	plaintext, err := s.aead.Open(nil, nonce, blob[1+NonceSize:], ctx.canonical())
	if err != nil {
		return nil, autherr.ErrTamperDetected
	}
	return plaintext, nil
}
