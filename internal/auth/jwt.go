// Package auth issues and validates the bearer tokens operators present to
// the verify, replay and audit endpoints.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the iss claim of every token this service mints.
const Issuer = "resortpay"

// TokenTypeOperator is the typ claim of operator tokens.
const TokenTypeOperator = "operator"

// Operator roles. Auditors may read; operators may also replay events.
const (
	RoleAuditor  = "auditor"
	RoleOperator = "operator"
)

const (
	// DefaultTokenExpiry covers one front-desk shift.
	DefaultTokenExpiry = 12 * time.Hour
	// DefaultLeeway absorbs clock skew between API instances.
	DefaultLeeway = 30 * time.Second
)

var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrExpiredToken    = errors.New("token has expired")
	ErrEmptyOperatorID = errors.New("operatorID cannot be empty")
	ErrInvalidRole     = errors.New("invalid role")
)

// Claims are the operator token claims. Subject is the operator id.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
	Type string `json:"typ"`
}

// CanReplay reports whether the token may trigger webhook replays.
func (c *Claims) CanReplay() bool {
	return c.Role == RoleOperator
}

// ValidRole reports whether role is known.
func ValidRole(role string) bool {
	return role == RoleAuditor || role == RoleOperator
}

// JWTService signs HS256 operator tokens with the current secret. During a
// rotation it still accepts tokens signed with the previous one.
type JWTService struct {
	keys   [][]byte
	leeway time.Duration
	now    func() time.Time
}

// Option configures a JWTService.
type Option func(*JWTService)

// WithPreviousSecret accepts tokens signed with secret until it is removed
// from configuration. An empty secret is ignored.
func WithPreviousSecret(secret string) Option {
	return func(s *JWTService) {
		if secret != "" {
			s.keys = append(s.keys, []byte(secret))
		}
	}
}

// WithLeeway overrides DefaultLeeway.
func WithLeeway(d time.Duration) Option {
	return func(s *JWTService) { s.leeway = d }
}

// NewJWTService signs with secret.
func NewJWTService(secret string, opts ...Option) *JWTService {
	s := &JWTService{keys: [][]byte{[]byte(secret)}, leeway: DefaultLeeway, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateOperatorToken mints a token for operatorID with role. A
// non-positive ttl uses DefaultTokenExpiry.
func (s *JWTService) GenerateOperatorToken(operatorID, role string, ttl time.Duration) (string, error) {
	if operatorID == "" {
		return "", ErrEmptyOperatorID
	}
	if !ValidRole(role) {
		return "", ErrInvalidRole
	}
	if ttl <= 0 {
		ttl = DefaultTokenExpiry
	}

	now := s.now()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   operatorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
		Type: TokenTypeOperator,
	}).SignedString(s.keys[0])
}

// ValidateToken returns the claims of a valid operator token. It returns
// ErrExpiredToken for expired tokens and ErrInvalidToken for everything else.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	var err error
	for _, key := range s.keys {
		var claims *Claims
		claims, err = s.parse(tokenString, key)
		switch {
		case err == nil:
			if claims.Type != TokenTypeOperator || claims.Subject == "" || !ValidRole(claims.Role) {
				return nil, ErrInvalidToken
			}
			return claims, nil
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		}
	}
	return nil, ErrInvalidToken
}

func (s *JWTService) parse(tokenString string, key []byte) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
