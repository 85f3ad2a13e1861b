package postgres

import (
	"context"

	"github.com/and161185/lexchat/internal/errs"
	"github.com/and161185/lexchat/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// MessageRepo implements MessageRepository using PostgreSQL.
type MessageRepo struct{ db *DB }

// NewMessageRepo constructs a message repository.
func NewMessageRepo(db *DB) *MessageRepo { return &MessageRepo{db: db} }

const messageCols = `id, contact_id, sender_id, receiver_id, content, file_urls, delivered, read, created_at`

// Create inserts m and moves the edge's last-message pointer in one transaction.
func (r *MessageRepo) Create(ctx context.Context, m *model.Message) error {
	const ins = `
INSERT INTO messages (id, contact_id, sender_id, receiver_id, content, file_urls)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at`
	const upd = `UPDATE contacts SET last_message_id=$2, updated_at=now() WHERE id=$1`

	if m.FileURLs == nil {
		m.FileURLs = []string{}
	}
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, ins, m.ID, m.ContactID, m.SenderID, m.ReceiverID, m.Content, m.FileURLs).
			Scan(&m.CreatedAt); err != nil {
			return mapErr(err)
		}
		tag, err := tx.Exec(ctx, upd, m.ContactID, m.ID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errs.ErrNotFound
		}
		return nil
	})
}

// GetByID loads a message.
func (r *MessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	return scanMessage(r.db.Pool.QueryRow(ctx, `SELECT `+messageCols+` FROM messages WHERE id=$1`, id))
}

// ListByContact returns the edge's history oldest first.
func (r *MessageRepo) ListByContact(ctx context.Context, contactID uuid.UUID) ([]model.Message, error) {
	const q = `SELECT ` + messageCols + ` FROM messages WHERE contact_id=$1 ORDER BY created_at ASC, id ASC`
	rows, err := r.db.Pool.Query(ctx, q, contactID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// Delete removes a message. A contact pointing at it falls back to NULL.
func (r *MessageRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM messages WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// UpdateStatus applies p and touches the owning edge.
func (r *MessageRepo) UpdateStatus(ctx context.Context, id uuid.UUID, p model.StatusPatch) (*model.Message, error) {
	const upd = `
UPDATE messages SET delivered=COALESCE($2, delivered), read=COALESCE($3, read)
WHERE id=$1
RETURNING ` + messageCols
	const touch = `UPDATE contacts SET updated_at=now() WHERE id=$1`

	var out *model.Message
	err := r.db.inTx(ctx, func(tx pgx.Tx) error {
		m, err := scanMessage(tx.QueryRow(ctx, upd, id, p.Delivered, p.Read))
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, touch, m.ContactID); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanMessage(row pgx.Row) (*model.Message, error) {
	var m model.Message
	err := row.Scan(&m.ID, &m.ContactID, &m.SenderID, &m.ReceiverID, &m.Content, &m.FileURLs,
		&m.Delivered, &m.Read, &m.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if m.FileURLs == nil {
		m.FileURLs = []string{}
	}
	return &m, nil
}
