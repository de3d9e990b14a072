package token

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner("test-secret")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

func TestNewSignerEmptySecret(t *testing.T) {
	if _, err := NewSigner(""); !errors.Is(err, ErrNoSecret) {
		t.Errorf("expected ErrNoSecret, got %v", err)
	}
}

func TestIssueVerifyRoundtrip(t *testing.T) {
	s := newTestSigner(t)
	tok, err := s.Issue("user-42", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	subject, err := s.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if subject != "user-42" {
		t.Errorf("subject = %q, want user-42", subject)
	}
}

func TestVerifyExpired(t *testing.T) {
	s := newTestSigner(t)
	tok, err := s.Issue("user-42", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Simulated clock past the expiry
	s.nowFn = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := s.Verify(tok); !errors.Is(err, ErrExpired) {
		t.Errorf("expected ErrExpired, got %v", err)
	}
}

func TestVerifyTamperedPayload(t *testing.T) {
	s := newTestSigner(t)
	tok, _ := s.Issue("user-42", time.Hour)

	payload, sig, _ := strings.Cut(tok, ".")
	// Flip a payload byte, keep the signature
	mutated := "A" + payload[1:]
	if mutated == payload {
		mutated = "B" + payload[1:]
	}
	if _, err := s.Verify(mutated + "." + sig); !errors.Is(err, ErrBadSignature) {
		t.Errorf("expected ErrBadSignature, got %v", err)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	s := newTestSigner(t)
	tok, _ := s.Issue("user-42", time.Hour)

	other, _ := NewSigner("different-secret")
	if _, err := other.Verify(tok); !errors.Is(err, ErrBadSignature) {
		t.Errorf("expected ErrBadSignature, got %v", err)
	}
}

func TestVerifyMalformed(t *testing.T) {
	s := newTestSigner(t)
	cases := []string{
		"",
		"no-dot-here",
		".justsig",
		"payload.",
		"!!!notbase64.deadbeef",
	}
	for _, tok := range cases {
		_, err := s.Verify(tok)
		if !errors.Is(err, ErrMalformed) && !errors.Is(err, ErrBadSignature) {
			t.Errorf("Verify(%q): expected malformed or bad signature, got %v", tok, err)
		}
	}
}

func TestIssueRejectsSubjectWithDot(t *testing.T) {
	s := newTestSigner(t)
	if _, err := s.Issue("bad.subject", time.Hour); err == nil {
		t.Error("expected error for subject containing a dot")
	}
}
