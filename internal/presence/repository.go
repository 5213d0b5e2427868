package presence

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository persists last-known presence to the user_statuses table. It is
// a best-effort mirror of the in-memory registry: a failed write is logged
// by the caller and never blocks a broadcast.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Upsert(ctx context.Context, rec Record) error {
	query := `
		INSERT INTO user_statuses (user_id, status, custom_message, last_seen)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id)
		DO UPDATE SET status = $2, custom_message = $3, last_seen = $4
	`
	_, err := r.db.ExecContext(ctx, query, rec.UserID, string(rec.Status), rec.CustomMessage, rec.LastSeen)
	return err
}

// Get loads the stored record. Unknown users read as offline, matching the
// registry's default.
func (r *Repository) Get(ctx context.Context, userID int64) (Record, error) {
	rec := Record{UserID: userID, Status: Offline}
	query := `SELECT status, COALESCE(custom_message, ''), last_seen FROM user_statuses WHERE user_id = $1`

	var status string
	var lastSeen time.Time
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&status, &rec.CustomMessage, &lastSeen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, nil
		}
		return rec, err
	}
	rec.Status = Status(status)
	rec.LastSeen = lastSeen
	return rec, nil
}
