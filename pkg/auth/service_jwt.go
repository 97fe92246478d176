package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer stamped on every internal service token
const Issuer = "parley-internal"

// ExtractToken extracts the JWT token from an Authorization header value.
// Supports "Bearer <token>" format.
func ExtractToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", errors.New("empty authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty token")
	}

	return token, nil
}

// ServiceTokenAuth signs and verifies HS256 tokens for the internal actor RPC surface
type ServiceTokenAuth struct {
	SecretKey []byte
	Expiry    time.Duration // Default: 1 hour
}

// ServiceClaims identifies the calling service
type ServiceClaims struct {
	Service string `json:"svc"`
	jwt.RegisteredClaims
}

// NewServiceTokenAuth creates a new service token authority
func NewServiceTokenAuth(secretKey string, expiry time.Duration) (*ServiceTokenAuth, error) {
	if secretKey == "" {
		return nil, errors.New("service token secret cannot be empty")
	}
	if expiry == 0 {
		expiry = time.Hour
	}

	return &ServiceTokenAuth{
		SecretKey: []byte(secretKey),
		Expiry:    expiry,
	}, nil
}

// IssueToken signs a token for the named calling service
func (a *ServiceTokenAuth) IssueToken(service string) (string, error) {
	now := time.Now()
	claims := ServiceClaims{
		Service: service,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   service,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.Expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    Issuer,
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.SecretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign service token: %w", err)
	}
	return token, nil
}

// VerifyToken verifies a service token and returns its claims
func (a *ServiceTokenAuth) VerifyToken(tokenString string) (*ServiceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ServiceClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.SecretKey, nil
	}, jwt.WithIssuer(Issuer))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims, ok := token.Claims.(*ServiceClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
