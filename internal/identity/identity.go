// Package identity turns an upstream bearer token into the requester
// identity the access engine consumes. Tokens are only shape-validated and
// signature-checked; authentication itself happens upstream.
package identity

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "phiguard/pkg/domain-errors"
)

// Requester is the authenticated caller.
type Requester struct {
	ID   string
	Role string
}

// Claims carries the role alongside the registered claims. The requester id
// is the token subject.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Validator verifies HS256 tokens.
type Validator struct {
	signingKey []byte
	issuer     string
	audience   string
}

// NewValidator returns a validator for tokens signed with signingKey. Empty
// issuer or audience disables that check.
func NewValidator(signingKey, issuer, audience string) *Validator {
	return &Validator{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
	}
}

// IssueToken signs a token for requester. Used by operators and tests; the
// production issuer is the upstream identity provider.
func (v *Validator) IssueToken(requester Requester, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: requester.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   requester.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    v.issuer,
			ID:        uuid.NewString(),
		},
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.signingKey)
}

// ValidateToken verifies tokenString and returns the requester it names.
func (v *Validator) ValidateToken(tokenString string) (Requester, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return v.signingKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Requester{}, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return Requester{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Requester{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	requester := Requester{
		ID:   strings.TrimSpace(claims.Subject),
		Role: strings.TrimSpace(claims.Role),
	}
	if requester.ID == "" || requester.Role == "" {
		return Requester{}, dErrors.New(dErrors.CodeUnauthorized, "token lacks subject or role")
	}
	return requester, nil
}
