package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Repository is the Postgres implementation of Store. It also satisfies the
// room registry's Authorizer.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)
var _ Authorizer = (*Repository)(nil)

// ---------------------------------------------
// Conversations
// ---------------------------------------------

func (r *Repository) CreateConversation(ctx context.Context, c *Conversation, participantIDs []int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO conversations (title, conversation_type, created_by)
		VALUES (NULLIF($1, ''), $2, $3)
		RETURNING id, created_at, last_activity
	`
	if err := tx.QueryRowContext(ctx, query, c.Title, string(c.Type), c.CreatedBy).
		Scan(&c.ID, &c.CreatedAt, &c.LastActivity); err != nil {
		return err
	}

	for _, userID := range participantIDs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_participants (conversation_id, user_id) VALUES ($1, $2)`,
			c.ID, userID)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Repository) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	c := &Conversation{}
	var title sql.NullString
	query := `
		SELECT id, title, conversation_type, created_by, is_active, created_at, last_activity
		FROM conversations WHERE id = $1
	`
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&c.ID, &title, &c.Type, &c.CreatedBy, &c.IsActive, &c.CreatedAt, &c.LastActivity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.Title = title.String

	c.Participants, err = r.participants(ctx, id)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *Repository) participants(ctx context.Context, conversationID int64) ([]Participant, error) {
	query := `
		SELECT u.id, u.email, u.first_name || ' ' || u.last_name, cp.joined_at
		FROM conversation_participants cp
		JOIN users u ON u.id = cp.user_id
		WHERE cp.conversation_id = $1
		ORDER BY cp.joined_at
	`
	rows, err := r.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.UserID, &p.Email, &p.Name, &p.JoinedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) ListConversations(ctx context.Context, userID int64) ([]Conversation, error) {
	query := `
		SELECT c.id, c.title, c.conversation_type, c.created_by, c.is_active, c.created_at, c.last_activity
		FROM conversations c
		JOIN conversation_participants cp ON cp.conversation_id = c.id
		WHERE cp.user_id = $1 AND c.is_active
		ORDER BY c.last_activity DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		var title sql.NullString
		if err := rows.Scan(&c.ID, &title, &c.Type, &c.CreatedBy, &c.IsActive, &c.CreatedAt, &c.LastActivity); err != nil {
			return nil, err
		}
		c.Title = title.String
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if out[i].Participants, err = r.participants(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Repository) DeactivateConversation(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE conversations SET is_active = FALSE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	var ok bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2
		)
	`
	err := r.db.QueryRowContext(ctx, query, conversationID, userID).Scan(&ok)
	return ok, err
}

func (r *Repository) ParticipantIDs(ctx context.Context, conversationID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id FROM conversation_participants WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ---------------------------------------------
// Messages
// ---------------------------------------------

const messageColumns = `
	m.id, m.conversation_id, m.sender_id,
	u.email, u.first_name || ' ' || u.last_name,
	m.message_type, m.content, COALESCE(m.attachment, ''), m.reply_to_id,
	m.is_read, m.read_at, m.is_deleted, m.created_at, m.updated_at
`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	m := &Message{}
	err := row.Scan(
		&m.ID, &m.ConversationID, &m.SenderID,
		&m.SenderEmail, &m.SenderName,
		&m.Type, &m.Content, &m.Attachment, &m.ReplyToID,
		&m.IsRead, &m.ReadAt, &m.IsDeleted, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// SaveMessage inserts the row and bumps the conversation's last_activity in
// the same transaction, so readers never observe one without the other.
func (r *Repository) SaveMessage(ctx context.Context, m *Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO messages (conversation_id, sender_id, message_type, content, attachment, reply_to_id)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
		RETURNING id, created_at, updated_at
	`
	if err := tx.QueryRowContext(ctx, query,
		m.ConversationID, m.SenderID, string(m.Type), m.Content, m.Attachment, m.ReplyToID).
		Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET last_activity = NOW() WHERE id = $1`, m.ConversationID)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// GetMessage fetches a live message scoped to a conversation. Soft-deleted
// rows read as absent here.
func (r *Repository) GetMessage(ctx context.Context, conversationID, messageID int64) (*Message, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.id = $1 AND m.conversation_id = $2 AND NOT m.is_deleted
	`, messageColumns)
	m, err := scanMessage(r.db.QueryRowContext(ctx, query, messageID, conversationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

// LookupMessage fetches a message by id regardless of conversation or
// soft-delete state. Reply traversal uses it so a tombstoned target still
// resolves.
func (r *Repository) LookupMessage(ctx context.Context, messageID int64) (*Message, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.id = $1
	`, messageColumns)
	m, err := scanMessage(r.db.QueryRowContext(ctx, query, messageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

func (r *Repository) ListMessages(ctx context.Context, conversationID int64, limit, offset int) ([]Message, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = $1 AND NOT m.is_deleted
		ORDER BY m.created_at DESC
		LIMIT $2 OFFSET $3
	`, messageColumns)
	rows, err := r.db.QueryContext(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (r *Repository) SoftDeleteMessage(ctx context.Context, messageID, senderID int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET is_deleted = TRUE, updated_at = NOW() WHERE id = $1 AND sender_id = $2`,
		messageID, senderID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) SearchMessages(ctx context.Context, userID int64, search string, limit int) ([]Message, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM messages m
		JOIN users u ON u.id = m.sender_id
		JOIN conversation_participants cp
			ON cp.conversation_id = m.conversation_id AND cp.user_id = $1
		WHERE NOT m.is_deleted AND m.content ILIKE $2
		ORDER BY m.created_at DESC
		LIMIT $3
	`, messageColumns)
	rows, err := r.db.QueryContext(ctx, query, userID, "%"+search+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (r *Repository) MessageStats(ctx context.Context, userID int64) (*MessageStats, error) {
	stats := &MessageStats{}
	query := `
		SELECT
			(SELECT COUNT(*) FROM conversation_participants WHERE user_id = $1),
			(SELECT COUNT(*) FROM messages WHERE sender_id = $1 AND NOT is_deleted),
			(SELECT COUNT(*)
				FROM messages m
				JOIN conversation_participants cp
					ON cp.conversation_id = m.conversation_id AND cp.user_id = $1
				WHERE m.sender_id <> $1 AND NOT m.is_deleted),
			(SELECT COUNT(*)
				FROM messages m
				JOIN conversation_participants cp
					ON cp.conversation_id = m.conversation_id AND cp.user_id = $1
				WHERE m.sender_id <> $1 AND NOT m.is_deleted
					AND NOT EXISTS (
						SELECT 1 FROM message_reads mr
						WHERE mr.message_id = m.id AND mr.user_id = $1
					))
	`
	err := r.db.QueryRowContext(ctx, query, userID).
		Scan(&stats.TotalConversations, &stats.TotalSent, &stats.TotalReceived, &stats.UnreadCount)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// ---------------------------------------------
// Receipts & reactions
// ---------------------------------------------

// UpsertReadReceipt is idempotent: a second mark-as-read from the same
// reader hits the conflict clause and changes nothing.
func (r *Repository) UpsertReadReceipt(ctx context.Context, messageID, userID int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO message_reads (message_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (message_id, user_id) DO NOTHING
	`, messageID, userID)
	return err
}

// MarkConversationRead sweeps every live message a user has not yet read
// into receipts, excluding the user's own messages. Runs when a session
// joins its room.
func (r *Repository) MarkConversationRead(ctx context.Context, conversationID, userID int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO message_reads (message_id, user_id)
		SELECT m.id, $2 FROM messages m
		WHERE m.conversation_id = $1 AND m.sender_id <> $2 AND NOT m.is_deleted
		ON CONFLICT (message_id, user_id) DO NOTHING
	`, conversationID, userID)
	return err
}

// UpsertReaction keeps at most one reaction per (message, reactor); a new
// kind from the same reactor replaces the old one.
func (r *Repository) UpsertReaction(ctx context.Context, messageID, userID int64, kind ReactionType) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO message_reactions (message_id, user_id, reaction_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id)
		DO UPDATE SET reaction_type = $3, created_at = NOW()
	`, messageID, userID, string(kind))
	return err
}

func (r *Repository) DeleteReaction(ctx context.Context, messageID, userID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2`,
		messageID, userID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListReactions returns every reaction on a message, oldest first.
func (r *Repository) ListReactions(ctx context.Context, messageID int64) ([]Reaction, error) {
	query := `
		SELECT mr.message_id, mr.user_id, u.email, u.first_name || ' ' || u.last_name,
			mr.reaction_type, mr.created_at
		FROM message_reactions mr
		JOIN users u ON u.id = mr.user_id
		WHERE mr.message_id = $1
		ORDER BY mr.created_at
	`
	rows, err := r.db.QueryContext(ctx, query, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reaction
	for rows.Next() {
		var rn Reaction
		if err := rows.Scan(&rn.MessageID, &rn.UserID, &rn.Email, &rn.Name, &rn.Type, &rn.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rn)
	}
	return out, rows.Err()
}
