package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/flowlytix/subscription-server/internal/clock"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	DashboardIssuer   = "flowlytix-dashboard"
	DashboardAudience = "flowlytix-dashboard"
)

// AccessClaims is the payload of a short-lived dashboard access token.
type AccessClaims struct {
	Email     string `json:"email"`
	Role      string `json:"role"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// AccessVerifyResult mirrors VerifyResult for the dashboard trust domain.
type AccessVerifyResult struct {
	Valid  bool
	Reason string
	Claims *AccessClaims
}

// AccessTokens signs and verifies operator/dashboard tokens with a
// symmetric secret. It is a separate trust domain from the license
// Authority; issuer and audience checks keep the two apart.
type AccessTokens struct {
	secret []byte
	clock  clock.Clock
	ttl    time.Duration
	log    *zap.Logger
}

func NewAccessTokens(secret string, clk clock.Clock, ttl time.Duration, log *zap.Logger) (*AccessTokens, error) {
	if secret == "" {
		return nil, errors.New("access token secret must not be empty")
	}
	return &AccessTokens{
		secret: []byte(secret),
		clock:  clk,
		ttl:    ttl,
		log:    log.Named("token.access"),
	}, nil
}

// Issue signs an access token for a dashboard user.
func (t *AccessTokens) Issue(userID, email, role string) (string, error) {
	if role == "" {
		role = "user"
	}

	now := t.clock.Now()
	claims := AccessClaims{
		Email:     email,
		Role:      role,
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    DashboardIssuer,
			Audience:  jwt.ClaimStrings{DashboardAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}

	return signed, nil
}

// Verify checks an access token against the dashboard trust domain.
func (t *AccessTokens) Verify(tokenString string) AccessVerifyResult {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(DashboardIssuer),
		jwt.WithAudience(DashboardAudience),
		jwt.WithTimeFunc(t.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return AccessVerifyResult{Valid: false, Reason: ReasonTokenExpired}
		}
		return AccessVerifyResult{Valid: false, Reason: ReasonTokenInvalid}
	}

	return AccessVerifyResult{Valid: true, Claims: claims}
}
