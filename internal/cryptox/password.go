// Package cryptox provides password hashing for the identity core.
package cryptox

import "golang.org/x/crypto/bcrypt"

// bcrypt cost 10 keeps hashing around tens of milliseconds on commodity
// hardware, which is the latency budget the request path assumes.
const hashCost = 10

// HashPassword produces a salted bcrypt digest of the plaintext password.
// Each call uses a fresh salt, so the same plaintext yields different
// digests across calls.
func HashPassword(plaintext string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), hashCost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

// CheckPassword reports whether the plaintext password matches the digest.
// A malformed digest is treated as a mismatch, never an error.
func CheckPassword(plaintext, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}
