// Package auth implements the shared-secret token scheme used by the
// HTTP token endpoint and the realtime gateway: a compact JSON payload
// signed with HMAC-SHA256, issued under a per-IP rate limit.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// DefaultTokenTTL is the token lifetime in seconds.
const DefaultTokenTTL = 3600

var (
	ErrMalformedToken = errors.New("malformed token")
	ErrBadSignature   = errors.New("token signature mismatch")
	ErrTokenExpired   = errors.New("token expired")
)

// Claims is the signed token payload.
type Claims struct {
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id,omitempty"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// Signer issues and verifies tokens under a shared secret.
type Signer struct {
	secret []byte
	ttl    time.Duration
}

// NewSigner creates a Signer. A ttlSeconds of zero uses the default.
func NewSigner(secret string, ttlSeconds int) *Signer {
	if ttlSeconds <= 0 {
		ttlSeconds = DefaultTokenTTL
	}
	return &Signer{secret: []byte(secret), ttl: time.Duration(ttlSeconds) * time.Second}
}

// Issue signs a token for the agent. The wire format is
// base64url(payload) "." hex(HMAC-SHA256(secret, payload)).
func (s *Signer) Issue(agentID, sessionID string) (string, Claims, error) {
	now := time.Now().UTC()
	claims := Claims{
		AgentID:   agentID,
		SessionID: sessionID,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(s.ttl).Unix(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", Claims{}, err
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + s.sign(payload), claims, nil
}

// Verify checks the signature and expiration, returning the claims.
func (s *Signer) Verify(token string) (Claims, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok {
		return Claims{}, ErrMalformedToken
	}
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Claims{}, ErrMalformedToken
	}
	if !hmac.Equal([]byte(s.sign(payload)), []byte(sig)) {
		return Claims{}, ErrBadSignature
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Claims{}, ErrMalformedToken
	}
	if claims.AgentID == "" {
		return Claims{}, ErrMalformedToken
	}
	if time.Now().UTC().Unix() >= claims.ExpiresAt {
		return Claims{}, ErrTokenExpired
	}
	return claims, nil
}

func (s *Signer) sign(payload []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
