package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/samber/lo"

	"chat-realtime/internal/models"
)

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

type messageRow struct {
	ID                 string         `db:"id"`
	SenderID           string         `db:"sender_id"`
	RecipientID        sql.NullString `db:"recipient_id"`
	GroupID            sql.NullString `db:"group_id"`
	Content            string         `db:"content"`
	AttachmentURL      sql.NullString `db:"attachment_url"`
	AttachmentName     sql.NullString `db:"attachment_name"`
	AttachmentMimetype sql.NullString `db:"attachment_mimetype"`
	AttachmentSize     sql.NullInt64  `db:"attachment_size"`
	Forwarded          bool           `db:"forwarded"`
	CreatedAt          time.Time      `db:"created_at"`
	EditedAt           sql.NullTime   `db:"edited_at"`
	DeliveredTo        pq.StringArray `db:"delivered_to"`
	SeenBy             pq.StringArray `db:"seen_by"`
}

func (r messageRow) toModel() models.Message {
	msg := models.Message{
		ID:          r.ID,
		Sender:      r.SenderID,
		Recipient:   r.RecipientID.String,
		Group:       r.GroupID.String,
		Content:     r.Content,
		Forwarded:   r.Forwarded,
		CreatedAt:   r.CreatedAt,
		DeliveredTo: append([]string{}, r.DeliveredTo...),
		SeenBy:      append([]string{}, r.SeenBy...),
	}
	if r.AttachmentURL.Valid {
		msg.FileAttachment = &models.FileAttachment{
			URL:      r.AttachmentURL.String,
			Name:     r.AttachmentName.String,
			Mimetype: r.AttachmentMimetype.String,
			Size:     r.AttachmentSize.Int64,
		}
	}
	if r.EditedAt.Valid {
		msg.EditedAt = lo.ToPtr(r.EditedAt.Time)
	}
	return msg
}

const messageSelect = `SELECT m.id, m.sender_id, m.recipient_id, m.group_id, m.content,
        m.attachment_url, m.attachment_name, m.attachment_mimetype, m.attachment_size,
        m.forwarded, m.created_at, m.edited_at,
        ARRAY(SELECT r.user_id FROM message_receipts r WHERE r.message_id = m.id AND r.kind = 'delivered' ORDER BY r.created_at, r.user_id) AS delivered_to,
        ARRAY(SELECT r.user_id FROM message_receipts r WHERE r.message_id = m.id AND r.kind = 'seen' ORDER BY r.created_at, r.user_id) AS seen_by
        FROM messages m`

// CreateMessage stores a new message and returns it with its assigned id
// and timestamp. Receipt sets start empty.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	msg.ID = NewID()
	msg.DeliveredTo = []string{}
	msg.SeenBy = []string{}

	var url, name, mimetype sql.NullString
	var size sql.NullInt64
	if att := msg.FileAttachment; att != nil {
		url = sql.NullString{String: att.URL, Valid: true}
		name = sql.NullString{String: att.Name, Valid: true}
		mimetype = sql.NullString{String: att.Mimetype, Valid: true}
		size = sql.NullInt64{Int64: att.Size, Valid: true}
	}

	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages
        (id, sender_id, recipient_id, group_id, content, attachment_url, attachment_name, attachment_mimetype, attachment_size, forwarded)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING created_at`,
		msg.ID, msg.Sender, nullable(msg.Recipient), nullable(msg.Group), msg.Content, url, name, mimetype, size, msg.Forwarded).
		Scan(&msg.CreatedAt)
	if err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// GetMessage retrieves a single message with its receipts.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row, messageSelect+` WHERE m.id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	return row.toModel(), nil
}

// UpdateContent replaces the text of a message. Attachments are immutable.
func (r *MessageRepo) UpdateContent(ctx context.Context, messageID string, content string, editedAt time.Time) (models.Message, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET content=$2, edited_at=$3 WHERE id=$1`, messageID, content, editedAt)
	if err != nil {
		return models.Message{}, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return models.Message{}, err
	}
	if count == 0 {
		return models.Message{}, ErrMessageNotFound
	}
	return r.GetMessage(ctx, messageID)
}

// DeleteMessage hard-deletes a message and its receipts.
func (r *MessageRepo) DeleteMessage(ctx context.Context, messageID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id=$1`, messageID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// ListGroupMessages returns a group's messages ordered by creation.
func (r *MessageRepo) ListGroupMessages(ctx context.Context, groupID string) ([]models.Message, error) {
	return r.list(ctx, messageSelect+` WHERE m.group_id=$1 ORDER BY m.created_at ASC, m.id ASC`, groupID)
}

// ListDirectMessages returns the messages exchanged between two users in
// either direction, ordered by creation.
func (r *MessageRepo) ListDirectMessages(ctx context.Context, userA string, userB string) ([]models.Message, error) {
	query := messageSelect + ` WHERE m.group_id IS NULL
        AND ((m.sender_id=$1 AND m.recipient_id=$2) OR (m.sender_id=$2 AND m.recipient_id=$1))
        ORDER BY m.created_at ASC, m.id ASC`
	return r.list(ctx, query, userA, userB)
}

// AddReceipt records that userID has the given receipt for a message.
// Repeated calls are no-ops and report false.
func (r *MessageRepo) AddReceipt(ctx context.Context, messageID string, userID string, kind string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO message_receipts (message_id, user_id, kind) VALUES ($1, $2, $3)
        ON CONFLICT (message_id, user_id, kind) DO NOTHING`, messageID, userID, kind)
	if isForeignKeyViolation(err) {
		return false, ErrMessageNotFound
	}
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count == 1, nil
}

func (r *MessageRepo) list(ctx context.Context, query string, args ...any) ([]models.Message, error) {
	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return lo.Map(rows, func(row messageRow, _ int) models.Message { return row.toModel() }), nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
