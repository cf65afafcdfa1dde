// Package auth produces request headers for the realtime endpoints from a session token.
//
// Credential acquisition and storage happen elsewhere; this package only turns an
// already-issued session token into the headers the stream handshake and the
// subscription/heartbeat calls carry.
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
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"
)

// ErrNoSession is returned when headers are requested without a session token.
var ErrNoSession = errors.New("no session token")

// HeaderProvider produces request headers given a session token.
type HeaderProvider interface {
	Headers(sessionToken string) (http.Header, error)
}

// HeaderProviderFunc is a function adapter for HeaderProvider.
type HeaderProviderFunc func(sessionToken string) (http.Header, error)

func (f HeaderProviderFunc) Headers(sessionToken string) (http.Header, error) {
	return f(sessionToken)
}

// Session binds a session token to the provider that renders it.
type Session struct {
	Token    string
	Provider HeaderProvider
}

// Headers returns the headers for the bound token.
func (s *Session) Headers() (http.Header, error) {
	if s == nil || s.Token == "" {
		return nil, ErrNoSession
	}
	if s.Provider == nil {
		return BearerHeaders{}.Headers(s.Token)
	}
	return s.Provider.Headers(s.Token)
}

// BearerHeaders sends the token as an Authorization bearer.
type BearerHeaders struct{}

func (BearerHeaders) Headers(sessionToken string) (http.Header, error) {
	if sessionToken == "" {
		return nil, ErrNoSession
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+sessionToken)
	return h, nil
}

// CookieHeaders sends the token as a session cookie plus an anti-forgery header.
type CookieHeaders struct {
	CookieName string // defaults to "session"
	CSRFToken  string // sent as Csrf-Token and as the JSESSIONID cookie when set
}

func (c CookieHeaders) Headers(sessionToken string) (http.Header, error) {
	if sessionToken == "" {
		return nil, ErrNoSession
	}
	name := c.CookieName
	if name == "" {
		name = "session"
	}

	cookie := name + "=" + sessionToken
	h := http.Header{}
	if c.CSRFToken != "" {
		cookie += "; JSESSIONID=\"" + c.CSRFToken + "\""
		h.Set("Csrf-Token", c.CSRFToken)
	}
	h.Set("Cookie", cookie)
	return h, nil
}

// Credentials signs every header set with an RSA-PSS signature over the token.
type Credentials struct {
	KeyID      string          // public key identifier registered with the server
	PrivateKey *rsa.PrivateKey // RSA private key for signing

	now func() time.Time
}

// LoadCredentials loads credentials from key ID and private key file path.
func LoadCredentials(keyID, privateKeyPath string) (*Credentials, error) {
	if keyID == "" {
		return nil, fmt.Errorf("key ID is required")
	}
	if privateKeyPath == "" {
		return nil, fmt.Errorf("private key path is required")
	}

	privateKey, err := LoadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}

	return &Credentials{
		KeyID:      keyID,
		PrivateKey: privateKey,
	}, nil
}

// LoadPrivateKey loads an RSA private key from a PEM file.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	// PKCS#8 first, then PKCS#1
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key is not an RSA private key")
		}
		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return rsaKey, nil
}

// Signature header names.
const (
	HeaderAccessKey       = "X-Access-Key"
	HeaderAccessTimestamp = "X-Access-Timestamp"
	HeaderAccessSignature = "X-Access-Signature"
)

// Headers returns a bearer header for the token plus the key id, timestamp and signature.
func (c *Credentials) Headers(sessionToken string) (http.Header, error) {
	h, err := BearerHeaders{}.Headers(sessionToken)
	if err != nil {
		return nil, err
	}

	now := time.Now
	if c.now != nil {
		now = c.now
	}
	timestampMs := now().UnixMilli()

	signature, err := c.sign(timestampMs, sessionToken)
	if err != nil {
		return nil, err
	}

	h.Set(HeaderAccessKey, c.KeyID)
	h.Set(HeaderAccessTimestamp, strconv.FormatInt(timestampMs, 10))
	h.Set(HeaderAccessSignature, signature)
	return h, nil
}

// sign creates an RSA-PSS signature over timestamp_ms + token.
func (c *Credentials) sign(timestampMs int64, sessionToken string) (string, error) {
	if c.PrivateKey == nil {
		return "", fmt.Errorf("private key is required")
	}

	hashed := sha256.Sum256([]byte(strconv.FormatInt(timestampMs, 10) + sessionToken))

	signature, err := rsa.SignPSS(
		rand.Reader,
		c.PrivateKey,
		crypto.SHA256,
		hashed[:],
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash},
	)
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}

	return base64.StdEncoding.EncodeToString(signature), nil
}
