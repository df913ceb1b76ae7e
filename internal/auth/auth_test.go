package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSigner_IssueAndVerify(t *testing.T) {
	signer := NewSigner("0123456789abcdef0123456789abcdef", 0)

	token, claims, err := signer.Issue("backend", "s1")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	if claims.ExpiresAt != claims.IssuedAt+DefaultTokenTTL {
		t.Errorf("expected exp = iat + %d, got iat=%d exp=%d", DefaultTokenTTL, claims.IssuedAt, claims.ExpiresAt)
	}

	// Wire format: base64url(payload).hex(signature).
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok {
		t.Fatal("expected dot-separated token")
	}
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("payload is not base64url: %v", err)
	}
	var decoded Claims
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded.AgentID != "backend" || decoded.SessionID != "s1" {
		t.Errorf("unexpected claims: %+v", decoded)
	}
	if len(sig) != 64 {
		t.Errorf("expected 64 hex chars of signature, got %d", len(sig))
	}

	verified, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("failed to verify token: %v", err)
	}
	if verified.AgentID != "backend" {
		t.Errorf("unexpected verified agent: %s", verified.AgentID)
	}
}

func TestSigner_RejectsTampering(t *testing.T) {
	signer := NewSigner("0123456789abcdef0123456789abcdef", 0)
	other := NewSigner("another-secret-another-secret-ab", 0)

	token, _, err := signer.Issue("backend", "")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	if _, err := other.Verify(token); !errors.Is(err, ErrBadSignature) {
		t.Errorf("expected ErrBadSignature under wrong secret, got %v", err)
	}
	if _, err := signer.Verify("not-a-token"); !errors.Is(err, ErrMalformedToken) {
		t.Errorf("expected ErrMalformedToken, got %v", err)
	}

	// Swap in a forged payload while keeping the old signature.
	_, sig, _ := strings.Cut(token, ".")
	forged, _ := json.Marshal(Claims{AgentID: "root", IssuedAt: 0, ExpiresAt: time.Now().Unix() + 9999})
	tampered := base64.RawURLEncoding.EncodeToString(forged) + "." + sig
	if _, err := signer.Verify(tampered); !errors.Is(err, ErrBadSignature) {
		t.Errorf("expected ErrBadSignature for tampered payload, got %v", err)
	}
}

func TestSigner_Expiration(t *testing.T) {
	signer := NewSigner("0123456789abcdef0123456789abcdef", 1)

	// Build an already-expired token under the same secret.
	claims := Claims{AgentID: "backend", IssuedAt: time.Now().Unix() - 10, ExpiresAt: time.Now().Unix() - 5}
	payload, _ := json.Marshal(claims)
	token := base64.RawURLEncoding.EncodeToString(payload) + "." + signer.sign(payload)

	if _, err := signer.Verify(token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestRateLimiter_TenPerWindow(t *testing.T) {
	limiter := NewRateLimiter()

	for i := 0; i < 10; i++ {
		if !limiter.Allow("10.0.0.1") {
			t.Fatalf("expected request %d to be allowed", i+1)
		}
	}
	if limiter.Allow("10.0.0.1") {
		t.Error("expected eleventh request to be rate-limited")
	}

	// Other sources are unaffected.
	if !limiter.Allow("10.0.0.2") {
		t.Error("expected a different source to be allowed")
	}
}
