// Package security verifies connection credentials. The core trusts the
// resulting identity; issuing credentials is someone else's job.
package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"tabletop-session-service/internal/domain"
)

// Identity is the verified triple every command is attributed to.
type Identity struct {
	UserID   string
	Username string
	Role     domain.Role
}

type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 bearer tokens against a shared secret.
type Verifier struct {
	issuer   string
	audience string
	secret   []byte
}

func NewVerifier(issuer, audience, secret string) *Verifier {
	return &Verifier{issuer: issuer, audience: audience, secret: []byte(secret)}
}

// Sign mints a token for an identity. Used by the dev token subcommand and
// by tests; production credential issuance lives outside this service.
func (v *Verifier) Sign(identity Identity, ttl time.Duration) (string, error) {
	claims := Claims{
		Username: identity.Username,
		Role:     string(identity.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   identity.UserID,
			Audience:  []string{v.audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify parses and validates a raw token into a trusted identity.
func (v *Verifier) Verify(raw string) (Identity, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return v.secret, nil
	}, jwt.WithIssuer(v.issuer), jwt.WithAudience(v.audience))
	if err != nil {
		return Identity{}, err
	}
	if !tok.Valid {
		return Identity{}, errors.New("invalid token")
	}
	role := domain.Role(claims.Role)
	if role != domain.RoleMaster && role != domain.RolePlayer {
		return Identity{}, fmt.Errorf("unknown role %q", claims.Role)
	}
	if claims.Subject == "" {
		return Identity{}, errors.New("missing subject")
	}
	return Identity{
		UserID:   claims.Subject,
		Username: claims.Username,
		Role:     role,
	}, nil
}
