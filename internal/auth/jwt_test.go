package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSecret     = "wJ6Qk8Qn1v9Qw1Zb2l8Qk9J3p6Qk8Qn1v9Qw1Zb2l8Qk="
	previousSecret = "previous-shift-secret-0123456789abcdef"
)

var shiftStart = time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) Option {
	return func(s *JWTService) { s.now = func() time.Time { return t } }
}

func sign(t *testing.T, method jwt.SigningMethod, claims Claims, key any) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func operatorClaims(mutate func(*Claims)) Claims {
	c := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   "ops-night",
			IssuedAt:  jwt.NewNumericDate(shiftStart),
			ExpiresAt: jwt.NewNumericDate(shiftStart.Add(time.Hour)),
		},
		Role: RoleOperator,
		Type: TokenTypeOperator,
	}
	if mutate != nil {
		mutate(&c)
	}
	return c
}

func TestGenerateOperatorToken(t *testing.T) {
	svc := NewJWTService(testSecret, fixedClock(shiftStart))

	tests := []struct {
		name       string
		operatorID string
		role       string
		ttl        time.Duration
		wantErr    error
		wantExpiry time.Time
	}{
		{"operator", "ops-night", RoleOperator, time.Hour, nil, shiftStart.Add(time.Hour)},
		{"auditor default ttl", "ops-audit", RoleAuditor, 0, nil, shiftStart.Add(DefaultTokenExpiry)},
		{"empty operator id", "", RoleOperator, 0, ErrEmptyOperatorID, time.Time{}},
		{"unknown role", "ops-night", "admin", 0, ErrInvalidRole, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := svc.GenerateOperatorToken(tt.operatorID, tt.role, tt.ttl)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			claims, err := svc.ValidateToken(token)
			if err != nil {
				t.Fatalf("ValidateToken: %v", err)
			}
			if claims.Subject != tt.operatorID || claims.Role != tt.role || claims.Issuer != Issuer {
				t.Errorf("claims = %+v", claims)
			}
			if !claims.ExpiresAt.Time.Equal(tt.wantExpiry) {
				t.Errorf("expiry = %s, want %s", claims.ExpiresAt.Time, tt.wantExpiry)
			}
			if claims.CanReplay() != (tt.role == RoleOperator) {
				t.Errorf("CanReplay = %v for role %s", claims.CanReplay(), tt.role)
			}
		})
	}
}

func TestValidateToken(t *testing.T) {
	svc := NewJWTService(testSecret, fixedClock(shiftStart.Add(time.Minute)))

	tests := []struct {
		name    string
		token   func(t *testing.T) string
		wantErr error
	}{
		{"valid", func(t *testing.T) string {
			return sign(t, jwt.SigningMethodHS256, operatorClaims(nil), []byte(testSecret))
		}, nil},
		{"garbage", func(*testing.T) string { return "not.a.jwt" }, ErrInvalidToken},
		{"wrong secret", func(t *testing.T) string {
			return sign(t, jwt.SigningMethodHS256, operatorClaims(nil), []byte("another-secret"))
		}, ErrInvalidToken},
		{"HS512 rejected", func(t *testing.T) string {
			return sign(t, jwt.SigningMethodHS512, operatorClaims(nil), []byte(testSecret))
		}, ErrInvalidToken},
		{"alg none rejected", func(t *testing.T) string {
			return sign(t, jwt.SigningMethodNone, operatorClaims(nil), jwt.UnsafeAllowNoneSignatureType)
		}, ErrInvalidToken},
		{"foreign issuer", func(t *testing.T) string {
			return sign(t, jwt.SigningMethodHS256, operatorClaims(func(c *Claims) { c.Issuer = "pms" }), []byte(testSecret))
		}, ErrInvalidToken},
		{"missing expiry", func(t *testing.T) string {
			return sign(t, jwt.SigningMethodHS256, operatorClaims(func(c *Claims) { c.ExpiresAt = nil }), []byte(testSecret))
		}, ErrInvalidToken},
		{"wrong type", func(t *testing.T) string {
			return sign(t, jwt.SigningMethodHS256, operatorClaims(func(c *Claims) { c.Type = "guest" }), []byte(testSecret))
		}, ErrInvalidToken},
		{"unknown role", func(t *testing.T) string {
			return sign(t, jwt.SigningMethodHS256, operatorClaims(func(c *Claims) { c.Role = "admin" }), []byte(testSecret))
		}, ErrInvalidToken},
		{"no subject", func(t *testing.T) string {
			return sign(t, jwt.SigningMethodHS256, operatorClaims(func(c *Claims) { c.Subject = "" }), []byte(testSecret))
		}, ErrInvalidToken},
		{"expired", func(t *testing.T) string {
			return sign(t, jwt.SigningMethodHS256, operatorClaims(func(c *Claims) {
				c.ExpiresAt = jwt.NewNumericDate(shiftStart.Add(-time.Minute))
			}), []byte(testSecret))
		}, ErrExpiredToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := svc.ValidateToken(tt.token(t))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && claims.Subject != "ops-night" {
				t.Errorf("subject = %q", claims.Subject)
			}
		})
	}
}

func TestValidateToken_Tampered(t *testing.T) {
	svc := NewJWTService(testSecret)
	token, err := svc.GenerateOperatorToken("ops-audit", RoleAuditor, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	parts := strings.Split(token, ".")
	escalated := sign(t, jwt.SigningMethodHS256, operatorClaims(func(c *Claims) {
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	}), []byte("x"))
	parts[1] = strings.Split(escalated, ".")[1]

	if _, err := svc.ValidateToken(strings.Join(parts, ".")); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("tampered payload: error = %v, want ErrInvalidToken", err)
	}
}

func TestLeeway(t *testing.T) {
	expiredBy10s := sign(t, jwt.SigningMethodHS256, operatorClaims(func(c *Claims) {
		c.ExpiresAt = jwt.NewNumericDate(shiftStart.Add(-10 * time.Second))
	}), []byte(testSecret))

	if _, err := NewJWTService(testSecret, fixedClock(shiftStart)).ValidateToken(expiredBy10s); err != nil {
		t.Errorf("default leeway should absorb 10s of skew: %v", err)
	}
	strict := NewJWTService(testSecret, fixedClock(shiftStart), WithLeeway(0))
	if _, err := strict.ValidateToken(expiredBy10s); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("zero leeway: error = %v, want ErrExpiredToken", err)
	}
}

func TestKeyRotation(t *testing.T) {
	rotating := NewJWTService(testSecret, WithPreviousSecret(previousSecret))

	oldToken, err := NewJWTService(previousSecret).GenerateOperatorToken("ops-night", RoleOperator, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := rotating.ValidateToken(oldToken); err != nil {
		t.Errorf("token from previous secret should validate during rotation: %v", err)
	}

	newToken, err := rotating.GenerateOperatorToken("ops-night", RoleOperator, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewJWTService(testSecret).ValidateToken(newToken); err != nil {
		t.Errorf("new tokens must be signed with the current secret: %v", err)
	}
	if _, err := NewJWTService(previousSecret).ValidateToken(newToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("previous secret must not validate new tokens: %v", err)
	}

	expiredOld := sign(t, jwt.SigningMethodHS256, operatorClaims(func(c *Claims) {
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	}), []byte(previousSecret))
	if _, err := rotating.ValidateToken(expiredOld); !errors.Is(err, ErrInvalidToken) && !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expired token from previous secret: error = %v", err)
	}

	if len(NewJWTService(testSecret, WithPreviousSecret("")).keys) != 1 {
		t.Error("empty previous secret should be ignored")
	}
}
