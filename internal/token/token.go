// Package token implements the stateless session token used to
// authenticate calls to the remote category/blocklist service.
//
// Format: base64url(subject "." expiryUnix) "." hex(HMAC-SHA256(secret, base64-part)).
// There is no revocation list: compromise mitigation relies solely on the
// short expiry and on rotating the signing secret. That is a deliberate
// simplicity tradeoff, not an oversight.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/focusgate/focusgate/internal/metrics"
)

var (
	// ErrNoSecret is returned when the signer is constructed without a
	// signing secret. The caller must treat this as fatal at startup.
	ErrNoSecret = errors.New("token: signing secret is empty")

	// ErrMalformed is returned when a token does not have the expected shape.
	ErrMalformed = errors.New("token: malformed")

	// ErrBadSignature is returned when the signature does not verify.
	ErrBadSignature = errors.New("token: bad signature")

	// ErrExpired is returned when the token's expiry has passed.
	ErrExpired = errors.New("token: expired")
)

// Signer issues and verifies session tokens with a server-held secret.
type Signer struct {
	secret []byte
	nowFn  func() time.Time
}

// NewSigner builds a Signer. An empty secret is refused outright.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &Signer{secret: []byte(secret), nowFn: time.Now}, nil
}

// Issue creates a token for subject that expires after ttl.
func (s *Signer) Issue(subject string, ttl time.Duration) (string, error) {
	if subject == "" || strings.Contains(subject, ".") {
		return "", fmt.Errorf("token: invalid subject %q", subject)
	}
	expiry := s.nowFn().Add(ttl).Unix()
	payload := base64.RawURLEncoding.EncodeToString(
		[]byte(subject + "." + strconv.FormatInt(expiry, 10)))
	return payload + "." + s.sign(payload), nil
}

// Verify checks the signature and expiry of a token and returns its subject.
// Signature comparison is constant time.
func (s *Signer) Verify(tok string) (string, error) {
	payload, sig, ok := strings.Cut(tok, ".")
	if !ok || payload == "" || sig == "" {
		metrics.TokenVerifyFailures.WithLabelValues("malformed").Inc()
		return "", ErrMalformed
	}

	expected := s.sign(payload)
	if subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) != 1 {
		metrics.TokenVerifyFailures.WithLabelValues("signature").Inc()
		return "", ErrBadSignature
	}

	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		metrics.TokenVerifyFailures.WithLabelValues("malformed").Inc()
		return "", ErrMalformed
	}
	subject, expStr, ok := strings.Cut(string(decoded), ".")
	if !ok || subject == "" {
		metrics.TokenVerifyFailures.WithLabelValues("malformed").Inc()
		return "", ErrMalformed
	}
	expiry, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		metrics.TokenVerifyFailures.WithLabelValues("malformed").Inc()
		return "", ErrMalformed
	}

	if s.nowFn().Unix() > expiry {
		metrics.TokenVerifyFailures.WithLabelValues("expired").Inc()
		return "", ErrExpired
	}
	return subject, nil
}

func (s *Signer) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
