package auth

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTTL is the lifetime of an issued token.
const DefaultTTL = time.Hour

// Claims is the identity carried by a signed token.
type Claims struct {
	ID        string
	Email     string
	Role      string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// tokenClaims is the wire payload: {id, email, role, iat, exp, jti}.
type tokenClaims struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs claims with HS256. IssuedAt and ExpiresAt are derived
// from now and ttl; a fresh token id is generated when none is set.
func IssueToken(secret []byte, claims Claims, now time.Time, ttl time.Duration) (string, Claims, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if claims.TokenID == "" {
		claims.TokenID = uuid.NewString()
	}
	claims.IssuedAt = now.UTC().Truncate(time.Second)
	claims.ExpiresAt = claims.IssuedAt.Add(ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		ID:    claims.ID,
		Email: claims.Email,
		Role:  claims.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.ID,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
			ID:        claims.TokenID,
		},
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// ParseToken verifies the signature and expiry of token against the wall
// clock.
func ParseToken(secret []byte, token string) (Claims, error) {
	return ParseTokenAt(secret, token, time.Now())
}

// ParseTokenAt is ParseToken with expiry checked at now.
func ParseTokenAt(secret []byte, token string, now time.Time) (Claims, error) {
	var out tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &out, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return Claims{}, ErrExpiredToken
	}
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if out.ID == "" {
		return Claims{}, ErrInvalidToken
	}
	return out.claims(), nil
}

// Inspect checks only the shape and expiry of token: three segments, a
// decodable payload and an exp in the future. The signature is not
// verified, so the result must not be trusted for authorisation.
func Inspect(token string, now time.Time) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Claims{}, ErrInvalidToken
	}
	payload, err := jwt.NewParser().DecodeSegment(parts[1])
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var out tokenClaims
	if err := json.Unmarshal(payload, &out); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if out.ExpiresAt == nil || out.ID == "" {
		return Claims{}, ErrInvalidToken
	}
	if !now.Before(out.ExpiresAt.Time) {
		return Claims{}, ErrExpiredToken
	}
	return out.claims(), nil
}

func (c tokenClaims) claims() Claims {
	claims := Claims{
		ID:      c.ID,
		Email:   c.Email,
		Role:    c.Role,
		TokenID: c.RegisteredClaims.ID,
	}
	if c.IssuedAt != nil {
		claims.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		claims.ExpiresAt = c.ExpiresAt.Time
	}
	return claims
}

// HashToken returns a stable fingerprint of a raw token for use as a
// storage key.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}
