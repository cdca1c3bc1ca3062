package crypto

import (
	"errors"
	"strings"
	"testing"
)

func testCipher(t *testing.T, fill byte) *AESCipher {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = fill
	}
	c, err := NewAESCipher(key)
	if err != nil {
		t.Fatalf("NewAESCipher: %v", err)
	}
	return c
}

func TestAESCipher_RoundTrip(t *testing.T) {
	c := testCipher(t, 7)

	enc, err := c.Encrypt("s3cr3t")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !IsEncrypted(enc) || strings.Contains(enc, "s3cr3t") {
		t.Fatalf("unexpected encrypted form %q", enc)
	}

	plain, err := c.Decrypt(enc)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if plain != "s3cr3t" {
		t.Fatalf("roundtrip mismatch: %q", plain)
	}
}

func TestAESCipher_NonceMakesEachEncryptionUnique(t *testing.T) {
	c := testCipher(t, 7)
	a, _ := c.Encrypt("value")
	b, _ := c.Encrypt("value")
	if a == b {
		t.Fatal("expected different cipher texts for the same value")
	}
}

func TestAESCipher_RejectsForeignCipherText(t *testing.T) {
	enc, err := testCipher(t, 1).Encrypt("value")
	if err != nil {
		t.Fatal(err)
	}

	for _, v := range []string{enc, "value_encrypted_by_a_different_cipher", "AES:###:###", "AES:onlyone"} {
		_, err := testCipher(t, 2).Decrypt(v)
		if !errors.Is(err, ErrInvalidCipherText) {
			t.Fatalf("Decrypt(%q): expected ErrInvalidCipherText, got %v", v, err)
		}
	}
}

func TestNewAEAD_KeyLength(t *testing.T) {
	if _, err := NewAEAD(make([]byte, 16)); err == nil {
		t.Fatal("expected error for short key")
	}
	a, err := NewAEAD(make([]byte, 32))
	if err != nil {
		t.Fatal(err)
	}
	a.Zeroize()
}
