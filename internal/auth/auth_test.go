package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCredentials_Headers(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}

	creds := &Credentials{
		KeyID:      "test-key-id",
		PrivateKey: privateKey,
		now:        func() time.Time { return time.UnixMilli(1700000000123) },
	}

	headers, err := creds.Headers("tok-1")
	if err != nil {
		t.Fatalf("Headers failed: %v", err)
	}

	if got := headers.Get("Authorization"); got != "Bearer tok-1" {
		t.Errorf("Authorization = %q, want %q", got, "Bearer tok-1")
	}
	if got := headers.Get(HeaderAccessKey); got != "test-key-id" {
		t.Errorf("%s = %q, want %q", HeaderAccessKey, got, "test-key-id")
	}
	if got := headers.Get(HeaderAccessTimestamp); got != "1700000000123" {
		t.Errorf("%s = %q, want %q", HeaderAccessTimestamp, got, "1700000000123")
	}

	sig := headers.Get(HeaderAccessSignature)
	if !isValidBase64(sig) {
		t.Fatalf("%s is not valid base64: %q", HeaderAccessSignature, sig)
	}

	raw, _ := base64.StdEncoding.DecodeString(sig)
	hashed := sha256.Sum256([]byte("1700000000123tok-1"))
	err = rsa.VerifyPSS(&privateKey.PublicKey, crypto.SHA256, hashed[:], raw,
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	if err != nil {
		t.Errorf("signature does not verify: %v", err)
	}
}

func TestCredentials_HeadersWithoutToken(t *testing.T) {
	creds := &Credentials{KeyID: "k"}
	if _, err := creds.Headers(""); !errors.Is(err, ErrNoSession) {
		t.Errorf("Headers(\"\") error = %v, want ErrNoSession", err)
	}
}

func TestCookieHeaders(t *testing.T) {
	tests := []struct {
		name       string
		provider   CookieHeaders
		wantCookie string
		wantCSRF   string
	}{
		{
			name:       "default cookie name",
			provider:   CookieHeaders{},
			wantCookie: "session=abc",
		},
		{
			name:       "with csrf token",
			provider:   CookieHeaders{CookieName: "li_at", CSRFToken: "ajax:123"},
			wantCookie: `li_at=abc; JSESSIONID="ajax:123"`,
			wantCSRF:   "ajax:123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := tt.provider.Headers("abc")
			if err != nil {
				t.Fatalf("Headers failed: %v", err)
			}
			if got := h.Get("Cookie"); got != tt.wantCookie {
				t.Errorf("Cookie = %q, want %q", got, tt.wantCookie)
			}
			if got := h.Get("Csrf-Token"); got != tt.wantCSRF {
				t.Errorf("Csrf-Token = %q, want %q", got, tt.wantCSRF)
			}
		})
	}
}

func TestSession_Headers(t *testing.T) {
	var nilSession *Session
	if _, err := nilSession.Headers(); !errors.Is(err, ErrNoSession) {
		t.Errorf("nil session error = %v, want ErrNoSession", err)
	}

	s := &Session{Token: "xyz"}
	h, err := s.Headers()
	if err != nil {
		t.Fatalf("Headers failed: %v", err)
	}
	if got := h.Get("Authorization"); got != "Bearer xyz" {
		t.Errorf("Authorization = %q, want %q", got, "Bearer xyz")
	}

	s.Provider = HeaderProviderFunc(func(token string) (http.Header, error) {
		return http.Header{"X-Token": []string{token}}, nil
	})
	h, err = s.Headers()
	if err != nil {
		t.Fatalf("Headers failed: %v", err)
	}
	if got := h.Get("X-Token"); got != "xyz" {
		t.Errorf("X-Token = %q, want %q", got, "xyz")
	}
}

func TestLoadPrivateKey_PKCS8(t *testing.T) {
	// Generate a test key
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}

	// Encode as PKCS#8
	pkcs8Bytes, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		t.Fatalf("failed to marshal PKCS#8: %v", err)
	}

	pemBlock := &pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: pkcs8Bytes,
	}

	// Write to temp file
	tmpFile := filepath.Join(t.TempDir(), "test-key.pem")
	if err := os.WriteFile(tmpFile, pem.EncodeToMemory(pemBlock), 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	// Load and verify
	loadedKey, err := LoadPrivateKey(tmpFile)
	if err != nil {
		t.Fatalf("LoadPrivateKey failed: %v", err)
	}

	if loadedKey.N.Cmp(privateKey.N) != 0 {
		t.Error("loaded key does not match original")
	}
}

func TestLoadPrivateKey_PKCS1(t *testing.T) {
	// Generate a test key
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}

	// Encode as PKCS#1
	pkcs1Bytes := x509.MarshalPKCS1PrivateKey(privateKey)

	pemBlock := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: pkcs1Bytes,
	}

	// Write to temp file
	tmpFile := filepath.Join(t.TempDir(), "test-key.pem")
	if err := os.WriteFile(tmpFile, pem.EncodeToMemory(pemBlock), 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	// Load and verify
	loadedKey, err := LoadPrivateKey(tmpFile)
	if err != nil {
		t.Fatalf("LoadPrivateKey failed: %v", err)
	}

	if loadedKey.N.Cmp(privateKey.N) != 0 {
		t.Error("loaded key does not match original")
	}
}

func TestLoadPrivateKey_FileNotFound(t *testing.T) {
	_, err := LoadPrivateKey("/nonexistent/path/to/key.pem")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadPrivateKey_InvalidPEM(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "invalid.pem")
	if err := os.WriteFile(tmpFile, []byte("not a pem file"), 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	_, err := LoadPrivateKey(tmpFile)
	if err == nil {
		t.Error("expected error for invalid PEM")
	}
}

func TestLoadCredentials(t *testing.T) {
	// Generate a test key
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}

	// Write key to temp file
	pkcs8Bytes, _ := x509.MarshalPKCS8PrivateKey(privateKey)
	pemBlock := &pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8Bytes}
	tmpFile := filepath.Join(t.TempDir(), "test-key.pem")
	if err := os.WriteFile(tmpFile, pem.EncodeToMemory(pemBlock), 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	creds, err := LoadCredentials("my-key-id", tmpFile)
	if err != nil {
		t.Fatalf("LoadCredentials failed: %v", err)
	}

	if creds.KeyID != "my-key-id" {
		t.Errorf("KeyID = %q, want %q", creds.KeyID, "my-key-id")
	}

	if creds.PrivateKey == nil {
		t.Error("PrivateKey is nil")
	}
}

func TestLoadCredentials_MissingKeyID(t *testing.T) {
	_, err := LoadCredentials("", "/some/path")
	if err == nil {
		t.Error("expected error for missing key ID")
	}
}

func TestLoadCredentials_MissingPath(t *testing.T) {
	_, err := LoadCredentials("key-id", "")
	if err == nil {
		t.Error("expected error for missing path")
	}
}

func isValidBase64(s string) bool {
	// Base64 encoded string should only contain valid characters
	for _, c := range s {
		if !strings.ContainsRune("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/=", c) {
			return false
		}
	}
	return len(s) > 0
}
