package models

import "time"

// LinkPrecedence marks a contact as the canonical anchor of its cluster or
// as an alias linked to one.
type LinkPrecedence string

const (
	LinkPrecedencePrimary   LinkPrecedence = "primary"
	LinkPrecedenceSecondary LinkPrecedence = "secondary"
)

// Contact is a single observed (email, phoneNumber) sighting. Contacts that
// transitively share a field form a cluster with exactly one primary.
//
// Invariants enforced by the resolver, not the store:
//   - at least one of Email/PhoneNumber is set
//   - a primary has LinkedID == nil
//   - a secondary's LinkedID points at a primary, never at another secondary
type Contact struct {
	ID             int64
	Email          *string
	PhoneNumber    *string
	LinkedID       *int64
	LinkPrecedence LinkPrecedence
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}

// IsPrimary reports whether the contact anchors its cluster.
func (c *Contact) IsPrimary() bool {
	return c.LinkPrecedence == LinkPrecedencePrimary
}

// EmailValue returns the email or "" when unset.
func (c *Contact) EmailValue() string {
	if c.Email == nil {
		return ""
	}
	return *c.Email
}

// PhoneValue returns the phone number or "" when unset.
func (c *Contact) PhoneValue() string {
	if c.PhoneNumber == nil {
		return ""
	}
	return *c.PhoneNumber
}
