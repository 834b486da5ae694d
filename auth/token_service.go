package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// SessionTokenType is the typ claim of checkout session tokens.
const SessionTokenType = "checkout_session"

var ErrInvalidToken = errors.New("invalid or expired token")

// TokenService issues and validates the tokens that bind a browser to its checkout session.
type TokenService struct {
	secretKey []byte
	ttl       time.Duration
	now       func() time.Time
}

func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{secretKey: []byte(secret), ttl: ttl, now: time.Now}
}

// IssueSessionToken signs a token whose subject is sessionID.
func (s *TokenService) IssueSessionToken(sessionID string) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := jwt.MapClaims{
		"sub": sessionID,
		"typ": SessionTokenType,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateSessionToken returns the session id carried by tokenStr.
func (s *TokenService) ValidateSessionToken(tokenStr string) (string, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := parser.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		return s.secretKey, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	if typ, _ := claims["typ"].(string); typ != SessionTokenType {
		return "", fmt.Errorf("%w: wrong token type", ErrInvalidToken)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return sub, nil
}
