package service

import (
	"context"
	"fmt"
	"time"

	"chatgenius-backend/internal/model"
	"chatgenius-backend/internal/realtime"

	"github.com/golang-jwt/jwt/v5"
)

// JWTVerifier validates HS256 access tokens issued by the identity provider.
// The subject is the user id; username is optional.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Verify implements realtime.Verifier.
func (v *JWTVerifier) Verify(_ context.Context, credential string) (*realtime.Claims, error) {
	return v.ValidateAccessToken(credential)
}

func (v *JWTVerifier) ValidateAccessToken(tokenString string) (*realtime.Claims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	userID, _ := claims["sub"].(string)
	username, _ := claims["username"].(string)
	if userID == "" {
		return nil, ErrInvalidToken
	}

	out := &realtime.Claims{Identity: model.Identity(userID), Username: username}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}

// Sign issues a token for userID. Token issuance belongs to the identity
// provider; this exists for tooling and tests.
func (v *JWTVerifier) Sign(userID, username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":      userID,
		"username": username,
		"iat":      now.Unix(),
		"exp":      now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}
