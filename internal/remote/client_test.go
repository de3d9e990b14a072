package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/focusgate/focusgate/internal/token"
	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, srv *httptest.Server) Client {
	t.Helper()
	signer, err := token.NewSigner("test-secret")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	c, err := NewClient(ClientConfig{
		BaseURL:   srv.URL,
		Subject:   "controller",
		TokenTTL:  time.Hour,
		VerifyTLS: true,
		Timeout:   5 * time.Second,
	}, signer, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestCategoriesSendsBearerToken(t *testing.T) {
	signer, _ := token.NewSigner("test-secret")
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode([]CategoryEntry{
			{Domain: "example.com", Category: "Learning"},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	entries, err := c.Categories(context.Background())
	if err != nil {
		t.Fatalf("Categories: %v", err)
	}
	if len(entries) != 1 || entries[0].Category != "Learning" {
		t.Errorf("entries = %+v", entries)
	}

	const prefix = "Bearer "
	if len(gotAuth) <= len(prefix) || gotAuth[:len(prefix)] != prefix {
		t.Fatalf("Authorization = %q, want Bearer token", gotAuth)
	}
	// The carried token must verify with the same signer
	subject, err := signer.Verify(gotAuth[len(prefix):])
	if err != nil {
		t.Fatalf("token does not verify: %v", err)
	}
	if subject != "controller" {
		t.Errorf("token subject = %q, want controller", subject)
	}
}

func TestBlocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/blocked" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode([]string{"news.example.com", "video.example.com"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	domains, err := c.Blocked(context.Background())
	if err != nil {
		t.Fatalf("Blocked: %v", err)
	}
	if len(domains) != 2 {
		t.Errorf("domains = %v", domains)
	}
}

func TestAddRemoveBlocked(t *testing.T) {
	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	if err := c.AddBlocked(context.Background(), "news.example.com"); err != nil {
		t.Fatalf("AddBlocked: %v", err)
	}
	if method != http.MethodPost || path != "/v1/blocked/news.example.com" {
		t.Errorf("got %s %s", method, path)
	}

	if err := c.RemoveBlocked(context.Background(), "news.example.com"); err != nil {
		t.Fatalf("RemoveBlocked: %v", err)
	}
	if method != http.MethodDelete {
		t.Errorf("method = %s, want DELETE", method)
	}
}

func TestRemoveBlockedAbsentIsNoError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	if err := c.RemoveBlocked(context.Background(), "gone.example.com"); err != nil {
		t.Errorf("removing an absent entry should converge silently, got %v", err)
	}
}

func TestUnauthorizedTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Blocked(context.Background())
	var unauth *ErrUnauthorized
	if !errors.As(err, &unauth) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestServerErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	if _, err := c.Blocked(context.Background()); err == nil {
		t.Error("expected error on HTTP 500")
	}
}
