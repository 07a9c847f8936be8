// Package secrets encrypts gateway shared secrets for at-rest storage.
// Ciphertexts serialize as a single string of the form
// "<hex nonce>:<base64 payload>" so they fit a plain text column.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"
)

var (
	ErrMalformed     = errors.New("malformed secret ciphertext")
	ErrDecryptFailed = errors.New("unable to decrypt secret")
)

// kdfSalt pins the scrypt derivation for this scheme. Changing it invalidates
// every stored ciphertext.
const kdfSalt = "paygate/secrets.v1"

const (
	scryptN = 32768
	scryptR = 8
	scryptP = 1
)

// Cipher performs symmetric encryption of gateway secrets under a key derived
// from the server-wide encryption key.
type Cipher struct {
	aead cipher.AEAD
}

// New derives the AES-256 key from the global encryption key and builds the
// AEAD used for all gateway secrets.
func New(globalKey string) (*Cipher, error) {
	if globalKey == "" {
		return nil, errors.New("encryption key must not be empty")
	}
	key, err := scrypt.Key([]byte(globalKey), []byte(kdfSalt), scryptN, scryptR, scryptP, 32)
	if err != nil {
		return nil, fmt.Errorf("deriving encryption key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals the secret and returns the single-string ciphertext.
func (c *Cipher) Encrypt(secret string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, []byte(secret), nil)
	return hex.EncodeToString(nonce) + ":" + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Decrypt(Encrypt(s)) == s for every string s.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	nonceHex, payload, ok := strings.Cut(ciphertext, ":")
	if !ok {
		return "", ErrMalformed
	}
	nonce, err := hex.DecodeString(nonceHex)
	if err != nil || len(nonce) != c.aead.NonceSize() {
		return "", ErrMalformed
	}
	sealed, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", ErrMalformed
	}
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptFailed
	}
	return string(plain), nil
}
