package service

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/deliverly/marketplace-api/internal/core/domain"
)

// Claims is the signed credential body: {id, role, tenantId?, branchId?, exp}.
type Claims struct {
	UserID   string `json:"id"`
	Role     string `json:"role"`
	TenantID string `json:"tenantId,omitempty"`
	BranchID string `json:"branchId,omitempty"`
	jwt.RegisteredClaims
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", &domain.AuthError{Reason: domain.AuthMissing}
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", &domain.AuthError{Reason: domain.AuthMalformed}
	}
	return strings.TrimSpace(parts[1]), nil
}

// TokenVerifier validates bearer credentials against the shared HS256 secret.
// It has no side effects.
type TokenVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Verify decodes raw into a Principal or returns a *domain.AuthError.
func (v *TokenVerifier) Verify(raw string) (*domain.Principal, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &domain.AuthError{Reason: domain.AuthMissing}
	}

	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, &domain.AuthError{Reason: authFailure(err), Err: err}
	}

	role := domain.Role(claims.Role)
	if claims.UserID == "" || !role.Valid() {
		return nil, &domain.AuthError{Reason: domain.AuthMalformed, Err: errors.New("missing id or unknown role claim")}
	}

	return &domain.Principal{
		ID:       claims.UserID,
		Role:     role,
		TenantID: claims.TenantID,
		BranchID: claims.BranchID,
	}, nil
}

// VerifyOptional degrades every failure to anonymous (nil).
func (v *TokenVerifier) VerifyOptional(raw string) *domain.Principal {
	p, err := v.Verify(raw)
	if err != nil {
		return nil
	}
	return p
}

func authFailure(err error) domain.AuthFailure {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return domain.AuthExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return domain.AuthInvalidSignature
	default:
		return domain.AuthMalformed
	}
}

// TokenIssuer signs credentials for authenticated users.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a credential for p.
func (i *TokenIssuer) Issue(p *domain.Principal) (string, error) {
	now := i.now()
	claims := Claims{
		UserID:   p.ID,
		Role:     string(p.Role),
		TenantID: p.TenantID,
		BranchID: p.BranchID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(i.secret)
}
