package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestNewAESEncryptorValidation(t *testing.T) {
	if _, err := NewAESEncryptor(""); err == nil {
		t.Error("expected error for empty key")
	}
	if _, err := NewAESEncryptor("not-base64!!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
	short := base64.StdEncoding.EncodeToString([]byte("tooshort"))
	if _, err := NewAESEncryptor(short); err == nil {
		t.Error("expected error for short key")
	}
	if _, err := NewAESEncryptor(testKey(t)); err != nil {
		t.Errorf("valid key rejected: %v", err)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatalf("create encryptor: %v", err)
	}
	plaintext := "ya29.a0AfB_secret-access-token"
	ct, err := EncryptString(enc, plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if ct == plaintext {
		t.Fatal("ciphertext equals plaintext")
	}
	got, err := DecryptString(enc, ct)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got != plaintext {
		t.Errorf("round trip = %q, want %q", got, plaintext)
	}
}

func TestEncryptStringEmptyPassthrough(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatalf("create encryptor: %v", err)
	}
	ct, err := EncryptString(enc, "")
	if err != nil || ct != "" {
		t.Errorf("EncryptString(empty) = %q, %v; want empty, nil", ct, err)
	}
	pt, err := DecryptString(enc, "")
	if err != nil || pt != "" {
		t.Errorf("DecryptString(empty) = %q, %v; want empty, nil", pt, err)
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	enc1, _ := NewAESEncryptor(testKey(t))
	enc2, _ := NewAESEncryptor(testKey(t))
	ct, err := EncryptString(enc1, "refresh-token")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := DecryptString(enc2, ct); err == nil {
		t.Error("expected decryption with wrong key to fail")
	}
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	enc, _ := NewAESEncryptor(testKey(t))
	ct, err := EncryptString(enc, "token")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	raw, _ := base64.StdEncoding.DecodeString(ct)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)
	if _, err := DecryptString(enc, tampered); err == nil {
		t.Error("expected tampered ciphertext to fail authentication")
	}
	if _, err := enc.Decrypt([]byte("short")); err == nil || !strings.Contains(err.Error(), "too short") {
		t.Errorf("expected too-short error, got %v", err)
	}
}

func TestEncryptNonDeterministic(t *testing.T) {
	enc, _ := NewAESEncryptor(testKey(t))
	a, _ := EncryptString(enc, "same input")
	b, _ := EncryptString(enc, "same input")
	if a == b {
		t.Error("two encryptions of the same plaintext must differ (random nonce)")
	}
}
