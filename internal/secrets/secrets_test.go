package secrets

import (
	"errors"
	"strings"
	"testing"
)

func TestNew_EmptyKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("New(\"\") should fail")
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	c, err := New("server-encryption-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	secrets := []string{
		"gateway-secret",
		"",
		"with spaces and : colons",
		"ünïcodé-пароль-秘密",
		strings.Repeat("x", 4096),
	}

	for _, secret := range secrets {
		ciphertext, err := c.Encrypt(secret)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", secret, err)
		}
		if strings.Contains(ciphertext, secret) && secret != "" {
			t.Errorf("ciphertext contains the plaintext for %q", secret)
		}
		plain, err := c.Decrypt(ciphertext)
		if err != nil {
			t.Fatalf("Decrypt(%q): %v", ciphertext, err)
		}
		if plain != secret {
			t.Errorf("round trip: got %q, want %q", plain, secret)
		}
	}
}

func TestEncrypt_FreshNoncePerCall(t *testing.T) {
	c, err := New("server-encryption-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a, _ := c.Encrypt("same secret")
	b, _ := c.Encrypt("same secret")
	if a == b {
		t.Error("two encryptions of the same secret produced identical ciphertexts")
	}
}

func TestDecrypt_Malformed(t *testing.T) {
	c, err := New("server-encryption-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		name       string
		ciphertext string
	}{
		{"no separator", "deadbeef"},
		{"bad nonce hex", "zzzz:aGVsbG8="},
		{"short nonce", "dead:aGVsbG8="},
		{"bad base64", "000000000000000000000000:!!!not-base64!!!"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Decrypt(tt.ciphertext); !errors.Is(err, ErrMalformed) {
				t.Errorf("Decrypt(%q) error = %v, want ErrMalformed", tt.ciphertext, err)
			}
		})
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	a, err := New("key-one")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New("key-two")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ciphertext, err := a.Encrypt("gateway-secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := b.Decrypt(ciphertext); !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("Decrypt under wrong key error = %v, want ErrDecryptFailed", err)
	}
}

func TestDecrypt_TamperedPayload(t *testing.T) {
	c, err := New("server-encryption-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ciphertext, err := c.Encrypt("gateway-secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	// Flip the nonce to a different valid value of the same length.
	nonceHex, payload, _ := strings.Cut(ciphertext, ":")
	tampered := strings.Repeat("0", len(nonceHex)) + ":" + payload
	if tampered == ciphertext {
		tampered = strings.Repeat("1", len(nonceHex)) + ":" + payload
	}
	if _, err := c.Decrypt(tampered); !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("Decrypt of tampered ciphertext error = %v, want ErrDecryptFailed", err)
	}
}
