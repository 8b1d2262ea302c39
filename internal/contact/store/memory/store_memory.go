// Package memory provides the in-memory contact store used by tests and
// single-process runs without PostgreSQL.
package memory

import (
	"context"
	"sort"
	"sync"

	"unify/internal/contact/models"
	"unify/internal/contact/store"
	"unify/pkg/requestcontext"
)

// InMemory stores contacts in a mutex-guarded map. Row timestamps come from
// requestcontext.Now so tests can pin creation times.
type InMemory struct {
	mu       sync.RWMutex
	contacts map[int64]*models.Contact
	nextID   int64
}

var _ store.Store = (*InMemory)(nil)

func New() *InMemory {
	return &InMemory{
		contacts: make(map[int64]*models.Contact),
		nextID:   1,
	}
}

func (s *InMemory) FindByFields(_ context.Context, email, phoneNumber string) ([]*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Contact
	for _, c := range s.contacts {
		if c.DeletedAt != nil {
			continue
		}
		if (email != "" && c.EmailValue() == email) ||
			(phoneNumber != "" && c.PhoneValue() == phoneNumber) {
			out = append(out, clone(c))
		}
	}
	sortContacts(out)
	return out, nil
}

func (s *InMemory) FindByIDsOrLinkedIDs(_ context.Context, ids, linkedIDs []int64) ([]*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idSet := toSet(ids)
	linkedSet := toSet(linkedIDs)

	var out []*models.Contact
	for _, c := range s.contacts {
		if c.DeletedAt != nil {
			continue
		}
		if idSet[c.ID] || (c.LinkedID != nil && linkedSet[*c.LinkedID]) {
			out = append(out, clone(c))
		}
	}
	sortContacts(out)
	return out, nil
}

func (s *InMemory) Insert(ctx context.Context, params store.InsertParams) (*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := requestcontext.Now(ctx)
	c := &models.Contact{
		ID:             s.nextID,
		Email:          copyString(params.Email),
		PhoneNumber:    copyString(params.PhoneNumber),
		LinkedID:       copyInt64(params.LinkedID),
		LinkPrecedence: params.LinkPrecedence,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.nextID++
	s.contacts[c.ID] = c
	return clone(c), nil
}

func (s *InMemory) UpdateManyPrecedenceAndLink(ctx context.Context, ids []int64, precedence models.LinkPrecedence, linkedID *int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := requestcontext.Now(ctx)
	var updated int64
	for _, id := range ids {
		c, ok := s.contacts[id]
		if !ok || c.DeletedAt != nil {
			continue
		}
		c.LinkPrecedence = precedence
		c.LinkedID = copyInt64(linkedID)
		c.UpdatedAt = now
		updated++
	}
	return updated, nil
}

func (s *InMemory) UpdateManyLinkedID(ctx context.Context, oldLinkedIDs []int64, newLinkedID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := requestcontext.Now(ctx)
	oldSet := toSet(oldLinkedIDs)
	var updated int64
	for _, c := range s.contacts {
		if c.DeletedAt != nil || c.LinkedID == nil || !oldSet[*c.LinkedID] {
			continue
		}
		linked := newLinkedID
		c.LinkedID = &linked
		c.UpdatedAt = now
		updated++
	}
	return updated, nil
}

func (s *InMemory) ListAll(_ context.Context) ([]*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		if c.DeletedAt != nil {
			continue
		}
		out = append(out, clone(c))
	}
	sortContacts(out)
	return out, nil
}

func (s *InMemory) Ping(_ context.Context) error {
	return nil
}

// SoftDelete marks a contact as deleted. The resolver never deletes; this
// exists so tests can exercise the deleted-rows-excluded rule.
func (s *InMemory) SoftDelete(ctx context.Context, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.contacts[id]; ok {
		now := requestcontext.Now(ctx)
		c.DeletedAt = &now
		c.UpdatedAt = now
	}
}

// Snapshot returns a copy of every row, deleted included, for test
// assertions about write counts and row state.
func (s *InMemory) Snapshot() []*models.Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, clone(c))
	}
	sortContacts(out)
	return out
}

// sortContacts orders by (CreatedAt, ID) ascending, the deterministic order
// every store query guarantees.
func sortContacts(cs []*models.Contact) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].ID < cs[j].ID
		}
		return cs[i].CreatedAt.Before(cs[j].CreatedAt)
	})
}

func toSet(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func clone(c *models.Contact) *models.Contact {
	out := *c
	out.Email = copyString(c.Email)
	out.PhoneNumber = copyString(c.PhoneNumber)
	out.LinkedID = copyInt64(c.LinkedID)
	if c.DeletedAt != nil {
		t := *c.DeletedAt
		out.DeletedAt = &t
	}
	return &out
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyInt64(i *int64) *int64 {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
