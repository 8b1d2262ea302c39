// Package postgres persists contacts in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"unify/internal/contact/models"
	"unify/internal/contact/store"
	"unify/pkg/platform/sentinel"
	"unify/pkg/requestcontext"
)

// Schema bootstraps the contacts table. Applied at startup; every statement
// is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS contacts (
	id              BIGSERIAL PRIMARY KEY,
	phone_number    TEXT,
	email           TEXT,
	linked_id       BIGINT REFERENCES contacts(id),
	link_precedence TEXT NOT NULL CHECK (link_precedence IN ('primary', 'secondary')),
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL,
	deleted_at      TIMESTAMPTZ,
	CHECK (phone_number IS NOT NULL OR email IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS idx_contacts_email ON contacts (email) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_contacts_phone ON contacts (phone_number) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_contacts_linked_id ON contacts (linked_id) WHERE deleted_at IS NULL;
`

const contactColumns = `id, phone_number, email, linked_id, link_precedence, created_at, updated_at, deleted_at`

// PostgresStore is the PostgreSQL-backed contact store.
type PostgresStore struct {
	db *sql.DB
}

var _ store.Store = (*PostgresStore)(nil)

// New constructs a PostgreSQL-backed contact store.
func New(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies the contacts schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply contacts schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByFields(ctx context.Context, email, phoneNumber string) ([]*models.Contact, error) {
	query := `SELECT ` + contactColumns + `
		FROM contacts
		WHERE deleted_at IS NULL
		  AND (($1 <> '' AND email = $1) OR ($2 <> '' AND phone_number = $2))
		ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, query, email, phoneNumber)
	if err != nil {
		return nil, fmt.Errorf("find contacts by fields: %w", err)
	}
	return scanContacts(rows)
}

func (s *PostgresStore) FindByIDsOrLinkedIDs(ctx context.Context, ids, linkedIDs []int64) ([]*models.Contact, error) {
	query := `SELECT ` + contactColumns + `
		FROM contacts
		WHERE deleted_at IS NULL
		  AND (id = ANY($1) OR linked_id = ANY($2))
		ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids), pq.Array(linkedIDs))
	if err != nil {
		return nil, fmt.Errorf("find contacts by ids: %w", err)
	}
	return scanContacts(rows)
}

func (s *PostgresStore) Insert(ctx context.Context, params store.InsertParams) (*models.Contact, error) {
	now := requestcontext.Now(ctx)
	query := `INSERT INTO contacts (email, phone_number, linked_id, link_precedence, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING id`
	var id int64
	err := s.db.QueryRowContext(ctx, query,
		nullString(params.Email),
		nullString(params.PhoneNumber),
		nullInt64(params.LinkedID),
		string(params.LinkPrecedence),
		now,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert contact: %w", err)
	}
	return &models.Contact{
		ID:             id,
		Email:          params.Email,
		PhoneNumber:    params.PhoneNumber,
		LinkedID:       params.LinkedID,
		LinkPrecedence: params.LinkPrecedence,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (s *PostgresStore) UpdateManyPrecedenceAndLink(ctx context.Context, ids []int64, precedence models.LinkPrecedence, linkedID *int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	now := requestcontext.Now(ctx)
	query := `UPDATE contacts
		SET link_precedence = $1, linked_id = $2, updated_at = $3
		WHERE id = ANY($4) AND deleted_at IS NULL`
	res, err := s.db.ExecContext(ctx, query, string(precedence), nullInt64(linkedID), now, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("update contact precedence: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update contact precedence: rows affected: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) UpdateManyLinkedID(ctx context.Context, oldLinkedIDs []int64, newLinkedID int64) (int64, error) {
	if len(oldLinkedIDs) == 0 {
		return 0, nil
	}
	now := requestcontext.Now(ctx)
	query := `UPDATE contacts
		SET linked_id = $1, updated_at = $2
		WHERE linked_id = ANY($3) AND deleted_at IS NULL`
	res, err := s.db.ExecContext(ctx, query, newLinkedID, now, pq.Array(oldLinkedIDs))
	if err != nil {
		return 0, fmt.Errorf("relink contacts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("relink contacts: rows affected: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]*models.Contact, error) {
	query := `SELECT ` + contactColumns + `
		FROM contacts
		WHERE deleted_at IS NULL
		ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	return scanContacts(rows)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping contacts store: %w: %v", sentinel.ErrUnavailable, err)
	}
	return nil
}

func scanContacts(rows *sql.Rows) ([]*models.Contact, error) {
	defer rows.Close()

	var contacts []*models.Contact
	for rows.Next() {
		c := &models.Contact{}
		var phone, email sql.NullString
		var linkedID sql.NullInt64
		var precedence string
		var deletedAt sql.NullTime

		if err := rows.Scan(&c.ID, &phone, &email, &linkedID, &precedence, &c.CreatedAt, &c.UpdatedAt, &deletedAt); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}

		if phone.Valid {
			c.PhoneNumber = &phone.String
		}
		if email.Valid {
			c.Email = &email.String
		}
		if linkedID.Valid {
			c.LinkedID = &linkedID.Int64
		}
		if deletedAt.Valid {
			c.DeletedAt = &deletedAt.Time
		}
		c.LinkPrecedence = models.LinkPrecedence(precedence)

		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	return contacts, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}
