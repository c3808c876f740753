package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

const legacyIssuer = "makeasinger-api"

// LegacyClaims are the claims of HMAC-signed tokens issued by the old API
type LegacyClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// HMACVerifier accepts legacy tokens signed with a shared secret
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier creates a verifier for tokens signed with secret
func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Verify(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &LegacyClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse legacy token: %w", err)
	}

	claims, ok := token.Claims.(*LegacyClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.UserID == "" {
		return nil, ErrMissingUser
	}

	return &Identity{UserID: claims.UserID, Email: claims.Email}, nil
}

// SignLegacyToken issues an HMAC token for userID. Used by tooling and tests.
func SignLegacyToken(secret, userID, email string) (string, error) {
	claims := LegacyClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: legacyIssuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
