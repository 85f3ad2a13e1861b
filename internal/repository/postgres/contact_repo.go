package postgres

import (
	"context"
	"database/sql"

	"github.com/and161185/lexchat/internal/errs"
	"github.com/and161185/lexchat/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// ContactRepo implements ContactRepository using PostgreSQL.
type ContactRepo struct{ db *DB }

// NewContactRepo constructs a contact repository.
func NewContactRepo(db *DB) *ContactRepo { return &ContactRepo{db: db} }

const contactCols = `id, user1_id, user2_id, last_message_id, created_at, updated_at`

// Create inserts a new edge. The pair index makes (a,b) and (b,a) collide.
func (r *ContactRepo) Create(ctx context.Context, c *model.Contact) error {
	const q = `
INSERT INTO contacts (id, user1_id, user2_id)
VALUES ($1, $2, $3)
RETURNING created_at, updated_at`
	err := r.db.Pool.QueryRow(ctx, q, c.ID, c.User1, c.User2).Scan(&c.CreatedAt, &c.UpdatedAt)
	return mapErr(err)
}

// GetByID loads an edge by id.
func (r *ContactRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Contact, error) {
	return scanContact(r.db.Pool.QueryRow(ctx, `SELECT `+contactCols+` FROM contacts WHERE id=$1`, id))
}

// FindPair loads the edge between a and b in either order.
func (r *ContactRepo) FindPair(ctx context.Context, a, b uuid.UUID) (*model.Contact, error) {
	const q = `SELECT ` + contactCols + ` FROM contacts
WHERE (user1_id=$1 AND user2_id=$2) OR (user1_id=$2 AND user2_id=$1)`
	return scanContact(r.db.Pool.QueryRow(ctx, q, a, b))
}

// ListForUser returns every edge of userID with the counterpart's profile and
// the latest message preview, most recently active first.
func (r *ContactRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]model.ContactView, error) {
	const q = `
SELECT c.id, c.updated_at,
       u.id, u.first_name, u.last_name, u.email, u.role,
       m.id, m.sender_id, m.content, m.created_at
FROM contacts c
JOIN users u ON u.id = CASE WHEN c.user1_id=$1 THEN c.user2_id ELSE c.user1_id END
LEFT JOIN messages m ON m.id = c.last_message_id
WHERE c.user1_id=$1 OR c.user2_id=$1
ORDER BY c.updated_at DESC`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.ContactView, 0)
	for rows.Next() {
		var (
			v                model.ContactView
			msgID, msgSender uuid.NullUUID
			msgContent       sql.NullString
			msgCreatedAt     sql.NullTime
		)
		if err := rows.Scan(
			&v.ID, &v.UpdatedAt,
			&v.Counterpart.ID, &v.Counterpart.FirstName, &v.Counterpart.LastName, &v.Counterpart.Email, &v.Counterpart.Role,
			&msgID, &msgSender, &msgContent, &msgCreatedAt,
		); err != nil {
			return nil, err
		}
		if msgID.Valid {
			v.LastMessage = &model.MessagePreview{
				ID:        msgID.UUID,
				SenderID:  msgSender.UUID,
				Content:   msgContent.String,
				CreatedAt: msgCreatedAt.Time,
			}
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// CounterpartIDs returns the other party of each edge of userID.
func (r *ContactRepo) CounterpartIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	const q = `
SELECT CASE WHEN user1_id=$1 THEN user2_id ELSE user1_id END
FROM contacts WHERE user1_id=$1 OR user2_id=$1`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Delete removes an edge. Messages go with it via ON DELETE CASCADE.
func (r *ContactRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM contacts WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// SetLastMessage points the edge at messageID and bumps updated_at.
func (r *ContactRepo) SetLastMessage(ctx context.Context, id, messageID uuid.UUID) (*model.Contact, error) {
	const q = `UPDATE contacts SET last_message_id=$2, updated_at=now() WHERE id=$1
RETURNING ` + contactCols
	return scanContact(r.db.Pool.QueryRow(ctx, q, id, messageID))
}

func scanContact(row pgx.Row) (*model.Contact, error) {
	var c model.Contact
	err := row.Scan(&c.ID, &c.User1, &c.User2, &c.LastMessageID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}
