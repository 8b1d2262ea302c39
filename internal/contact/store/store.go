// Package store defines the persistence capability the resolver depends on.
//
// Stores are interface-driven to keep the resolver testable and to allow
// swapping in-memory and PostgreSQL persistence without rewiring business
// code. Every list result is ordered by (created_at, id) ascending so the
// first primary in iteration order is always the canonical one, and every
// query excludes soft-deleted rows.
package store

import (
	"context"

	"unify/internal/contact/models"
)

// InsertParams carries the fields for a new contact row. Nil field pointers
// are stored as NULL; the store does not second-guess which fields the
// resolver chose to record.
type InsertParams struct {
	Email          *string
	PhoneNumber    *string
	LinkedID       *int64
	LinkPrecedence models.LinkPrecedence
}

// Store is the contact persistence capability. Implementations must not
// enforce cluster invariants; that is the resolver's job.
type Store interface {
	// FindByFields returns non-deleted contacts whose email or phone number
	// equals the supplied values. Empty inputs match nothing.
	FindByFields(ctx context.Context, email, phoneNumber string) ([]*models.Contact, error)

	// FindByIDsOrLinkedIDs returns non-deleted contacts whose id is in ids
	// or whose linked_id is in linkedIDs.
	FindByIDsOrLinkedIDs(ctx context.Context, ids, linkedIDs []int64) ([]*models.Contact, error)

	// Insert creates a contact and returns it with its assigned id and
	// timestamps.
	Insert(ctx context.Context, params InsertParams) (*models.Contact, error)

	// UpdateManyPrecedenceAndLink sets link_precedence and linked_id on the
	// given ids in one batch, returning the number of rows updated.
	UpdateManyPrecedenceAndLink(ctx context.Context, ids []int64, precedence models.LinkPrecedence, linkedID *int64) (int64, error)

	// UpdateManyLinkedID re-points contacts whose linked_id is in
	// oldLinkedIDs at newLinkedID, returning the number of rows updated.
	UpdateManyLinkedID(ctx context.Context, oldLinkedIDs []int64, newLinkedID int64) (int64, error)

	// ListAll returns every non-deleted contact, for the operator listing.
	ListAll(ctx context.Context) ([]*models.Contact, error)

	// Ping reports whether the backing persistence is reachable.
	Ping(ctx context.Context) error
}
