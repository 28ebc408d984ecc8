// Package models defines the identity record and the document it is stored
// in. Records are mutated only by the identity service; everything else gets
// the public Projection.
package models

import (
	"strings"
	"time"
)

// Role is the closed set of account roles. Values are always stored
// lowercase; ParseRole is the single canonicalization point.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleStaff   Role = "staff"
)

// ParseRole canonicalizes a caller-supplied role string. An empty string
// defaults to RoleStudent. The boolean result is false for values outside
// the closed set.
func ParseRole(s string) (Role, bool) {
	if s == "" {
		return RoleStudent, true
	}
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleStudent, RoleTeacher, RoleStaff:
		return r, true
	default:
		return "", false
	}
}

// Equal compares roles case-insensitively. Canonicalization is enforced at
// write boundaries, but historical documents may carry mixed-case values, so
// comparison never depends on stored casing.
func (r Role) Equal(other Role) bool {
	return strings.EqualFold(string(r), string(other))
}

// Identity is a stored account record. Token fields use the zero value
// (empty string, nil expiry) to mean "no token pending"; omitempty keeps
// absent fields out of the persisted document.
type Identity struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Email              string     `json:"email"`
	PasswordHash       string     `json:"passwordHash"`
	Role               Role       `json:"role"`
	IsVerified         bool       `json:"isVerified"`
	IsActive           bool       `json:"isActive"`
	VerificationToken  string     `json:"verificationToken,omitempty"`
	VerificationExpiry *time.Time `json:"verificationExpiry,omitempty"`
	ResetToken         string     `json:"resetToken,omitempty"`
	ResetExpiry        *time.Time `json:"resetExpiry,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// VerificationValid reports whether the record carries an unexpired
// verification token matching the candidate. Expiry is lazy: an expired
// token that has not been cleared yet is treated as absent.
func (i *Identity) VerificationValid(token string, now time.Time) bool {
	return i.VerificationToken != "" && i.VerificationToken == token &&
		i.VerificationExpiry != nil && now.Before(*i.VerificationExpiry)
}

// ResetValid reports whether the record carries an unexpired reset token
// matching the candidate.
func (i *Identity) ResetValid(token string, now time.Time) bool {
	return i.ResetToken != "" && i.ResetToken == token &&
		i.ResetExpiry != nil && now.Before(*i.ResetExpiry)
}

// ClearVerification removes any pending verification token. Reset state is
// orthogonal and untouched.
func (i *Identity) ClearVerification() {
	i.VerificationToken = ""
	i.VerificationExpiry = nil
}

// ClearReset removes any pending password-reset token.
func (i *Identity) ClearReset() {
	i.ResetToken = ""
	i.ResetExpiry = nil
}

// Projection is the public-safe view of an identity record. It never carries
// the password hash or any pending token.
type Projection struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Role       Role      `json:"role"`
	IsVerified bool      `json:"isVerified"`
	IsActive   bool      `json:"isActive"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Projection returns the public-safe view of the record.
func (i *Identity) Projection() Projection {
	return Projection{
		ID:         i.ID,
		Name:       i.Name,
		Email:      i.Email,
		Role:       i.Role,
		IsVerified: i.IsVerified,
		IsActive:   i.IsActive,
		CreatedAt:  i.CreatedAt,
		UpdatedAt:  i.UpdatedAt,
	}
}
