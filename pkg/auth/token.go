package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultTTL is the fixed validity duration of issued tokens
	DefaultTTL = 24 * time.Hour
	// DefaultNearExpiryThreshold signals callers to refresh below this
	// remaining lifetime
	DefaultNearExpiryThreshold = 5 * time.Minute
)

// Claims are the JWT claims carried by stocklane access tokens. The subject
// claim holds the username; authorities are captured at issuance for
// diagnostics but principal resolution always goes through the directory.
type Claims struct {
	Authorities []string `json:"authorities,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer creates and verifies signed, time-bounded access tokens.
// Validation is a pure function of token, current time, and the configured
// secret; no state is kept and no token is ever persisted.
type TokenIssuer struct {
	secret    []byte
	ttl       time.Duration
	threshold time.Duration
	now       func() time.Time
}

// NewTokenIssuer creates a token issuer with the given HS256 secret. Zero
// durations fall back to the defaults.
func NewTokenIssuer(secret []byte, ttl, nearExpiryThreshold time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if nearExpiryThreshold <= 0 {
		nearExpiryThreshold = DefaultNearExpiryThreshold
	}
	return &TokenIssuer{
		secret:    secret,
		ttl:       ttl,
		threshold: nearExpiryThreshold,
		now:       time.Now,
	}
}

// Issue produces a signed token for the subject with an absolute expiry of
// now + TTL
func (i *TokenIssuer) Issue(username string, authorities []Authority) (string, error) {
	now := i.now()
	claims := &Claims{
		Authorities: AuthorityStrings(authorities),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// TTL returns the lifetime applied to issued tokens.
func (i *TokenIssuer) TTL() time.Duration {
	return i.ttl
}

// Validate reports whether the signature verifies and the token has not
// expired. It never returns an error: malformed input, a bad signature, and
// expiry all yield false. A token is invalid from the expiry instant onward.
func (i *TokenIssuer) Validate(tokenString string) bool {
	_, err := i.parse(tokenString)
	return err == nil
}

// Subject decodes the subject claim. Returns ErrMalformedToken when the token
// cannot be parsed; signature and expiry are not checked here.
func (i *TokenIssuer) Subject(tokenString string) (string, error) {
	claims, err := i.parseUnvalidated(tokenString)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject claim", ErrMalformedToken)
	}
	return claims.Subject, nil
}

// NearExpiry reports whether the remaining lifetime is below the configured
// threshold. It signals refresh need only; it never rejects a token.
func (i *TokenIssuer) NearExpiry(tokenString string) bool {
	claims, err := i.parseUnvalidated(tokenString)
	if err != nil || claims.ExpiresAt == nil {
		return false
	}
	remaining := claims.ExpiresAt.Time.Sub(i.now())
	return remaining < i.threshold
}

// parse verifies signature and time claims, mapping library errors onto the
// package sentinels.
func (i *TokenIssuer) parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, i.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
		}
	}
	if !token.Valid {
		return nil, ErrInvalidSignature
	}
	return claims, nil
}

// parseUnvalidated verifies the signature but skips time-claim validation so
// expired tokens can still be inspected.
func (i *TokenIssuer) parseUnvalidated(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, i.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
		}
	}
	return claims, nil
}

func (i *TokenIssuer) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return i.secret, nil
}
