// Package auth resolves the actor behind a request and decides whether it
// may administer licenses.
package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "licensegate/internal/errors"
	"licensegate/pkg/contracts/domain"
)

// MinSecretLength is the shortest accepted HS256 secret
const MinSecretLength = 32

// Claims are the bearer token claims of an operator
type Claims struct {
	Role   string `json:"role"`
	Tenant string `json:"tenant,omitempty"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies HS256 operator tokens
type TokenService struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// NewTokenService creates a token service
func NewTokenService(secret []byte, issuer string, leeway time.Duration) (*TokenService, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
	}
	if issuer == "" {
		return nil, errors.New("jwt issuer is required")
	}
	return &TokenService{
		secret: slices.Clone(secret),
		issuer: issuer,
		leeway: leeway,
		now:    time.Now,
	}, nil
}

// Issue signs a token for subject. tenant "*" grants every tenant.
func (s *TokenService) Issue(subject, role, tenant string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("token subject is required")
	}
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:   role,
		Tenant: tenant,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(s.secret)
}

// Parse verifies raw and returns the operator it names. Failures wrap
// errors.ErrUnauthenticated.
func (s *TokenService) Parse(raw string) (domain.Actor, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("%w: %v", apperrors.ErrUnauthenticated, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return domain.Actor{}, fmt.Errorf("%w: invalid token claims", apperrors.ErrUnauthenticated)
	}

	return domain.Actor{
		Kind:    domain.ActorUser,
		Subject: claims.Subject,
		Role:    claims.Role,
		Tenant:  claims.Tenant,
	}, nil
}
