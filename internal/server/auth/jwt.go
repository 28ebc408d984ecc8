// Package auth issues and validates the two token classes of the identity
// core: signed session tokens and opaque side-channel secrets.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dkarpov/studenthub/internal/common"
)

// Claims carries the registered claims plus the subject identity id.
type Claims struct {
	jwt.RegisteredClaims
	SubjectID string
}

// GenerateSessionToken signs a self-contained HS256 bearer token binding the
// subject id and an expiry. Validation needs only the shared secret, never a
// store lookup.
func GenerateSessionToken(subjectID string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		SubjectID: subjectID,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// SubjectFromSessionToken verifies signature and expiry and returns the
// subject id. Any malformed, forged, or expired token yields
// common.ErrInvalidToken.
func SubjectFromSessionToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, common.ErrInvalidToken
		}
		return secretKey, nil
	})
	if err != nil {
		return "", common.ErrInvalidToken
	}

	if !token.Valid || claims.SubjectID == "" {
		return "", common.ErrInvalidToken
	}

	return claims.SubjectID, nil
}
