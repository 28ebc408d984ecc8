package models

import (
	"strings"
	"time"
)

// Document is the whole persisted dataset. The unit of consistency is the
// entire document, not an individual record.
type Document struct {
	Identities []Identity `json:"identities"`
}

// NewDocument returns an empty document with a non-nil identity list.
func NewDocument() *Document {
	return &Document{Identities: []Identity{}}
}

// FindByEmail returns a pointer into the document's identity list for the
// record with the given email, compared case-insensitively, or nil.
func (d *Document) FindByEmail(email string) *Identity {
	for idx := range d.Identities {
		if strings.EqualFold(d.Identities[idx].Email, email) {
			return &d.Identities[idx]
		}
	}
	return nil
}

// FindByID returns a pointer into the document's identity list for the
// record with the given id, or nil.
func (d *Document) FindByID(id string) *Identity {
	for idx := range d.Identities {
		if d.Identities[idx].ID == id {
			return &d.Identities[idx]
		}
	}
	return nil
}

// FindByVerificationToken returns the record carrying an unexpired
// verification token equal to the candidate, or nil.
func (d *Document) FindByVerificationToken(token string, now time.Time) *Identity {
	if token == "" {
		return nil
	}
	for idx := range d.Identities {
		if d.Identities[idx].VerificationValid(token, now) {
			return &d.Identities[idx]
		}
	}
	return nil
}

// FindByResetToken returns the record carrying an unexpired reset token
// equal to the candidate, or nil.
func (d *Document) FindByResetToken(token string, now time.Time) *Identity {
	if token == "" {
		return nil
	}
	for idx := range d.Identities {
		if d.Identities[idx].ResetValid(token, now) {
			return &d.Identities[idx]
		}
	}
	return nil
}
