// Package token owns the two signing contexts of the licensing server:
// RS256 license tokens proving a successful validation, and HS256
// access tokens for the dashboard. The two trust domains use distinct
// issuer/audience pairs and never accept each other's tokens.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/flowlytix/subscription-server/internal/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	LicenseIssuer   = "flowlytix-licensing"
	LicenseAudience = "flowlytix-app"

	// Verify reason codes for expected failure modes.
	ReasonTokenExpired = "token_expired"
	ReasonTokenInvalid = "invalid_token"
)

// LicenseClaims is the payload of a signed license token: a time-boxed
// assertion that a given device passed validation for a subscription.
type LicenseClaims struct {
	SubscriptionID  string         `json:"subscription_id"`
	CustomerID      string         `json:"customer_id"`
	Tier            string         `json:"tier"`
	Features        map[string]any `json:"features"`
	DeviceID        string         `json:"device_id"`
	ExpiresAt       *time.Time     `json:"expires_at,omitempty"`
	GracePeriodDays int            `json:"grace_period_days"`
	jwt.RegisteredClaims
}

// VerifyResult is the typed outcome of token verification. Expected
// failures (expired, malformed, wrong trust domain) are reported via
// Valid=false and Reason, never as errors.
type VerifyResult struct {
	Valid  bool
	Reason string
	Claims *LicenseClaims
}

// Authority issues and verifies license tokens with the process-wide
// RSA key pair. The token TTL is a fixed ceiling independent of the
// subscription's own expiry; re-validation before privileged
// operations remains the server's job.
type Authority struct {
	keys  *Keyring
	clock clock.Clock
	ttl   time.Duration
	log   *zap.Logger
}

func NewAuthority(keys *Keyring, clk clock.Clock, ttl time.Duration, log *zap.Logger) *Authority {
	return &Authority{
		keys:  keys,
		clock: clk,
		ttl:   ttl,
		log:   log.Named("token.authority"),
	}
}

// Issue signs a license token for the given claims, filling in the
// registered claims (issuer, audience, iat, exp, jti).
func (a *Authority) Issue(claims LicenseClaims) (string, error) {
	if a.keys == nil || a.keys.private == nil {
		return "", errors.New("private key not initialized")
	}

	now := a.clock.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    LicenseIssuer,
		Audience:  jwt.ClaimStrings{LicenseAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		ID:        uuid.New().String(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.keys.private)
	if err != nil {
		return "", fmt.Errorf("sign license token: %w", err)
	}

	a.log.Info("license token issued",
		zap.String("subscription_id", claims.SubscriptionID),
		zap.String("device_id", claims.DeviceID),
	)

	return signed, nil
}

// Verify checks signature, expiry, issuer, and audience. Tokens whose
// algorithm is not RS256 are rejected regardless of signature.
func (a *Authority) Verify(tokenString string) VerifyResult {
	if a.keys == nil || a.keys.public == nil {
		return VerifyResult{Valid: false, Reason: ReasonTokenInvalid}
	}

	claims := &LicenseClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return a.keys.public, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(LicenseIssuer),
		jwt.WithAudience(LicenseAudience),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(a.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			a.log.Warn("license token verification failed: token expired")
			return VerifyResult{Valid: false, Reason: ReasonTokenExpired}
		}
		a.log.Warn("license token verification failed", zap.Error(err))
		return VerifyResult{Valid: false, Reason: ReasonTokenInvalid}
	}

	return VerifyResult{Valid: true, Claims: claims}
}
