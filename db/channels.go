package db

import (
	"context"
	"database/sql"
)

// Channel is a registered broadcaster channel the engine can serve.
type Channel struct {
	ID                string
	Title             string
	ModerationEnabled bool
}

// GetChannel returns a channel by id, or nil when not registered.
func GetChannel(ctx context.Context, dbx *sql.DB, id string) (*Channel, error) {
	var c Channel
	err := dbx.QueryRowContext(ctx, `SELECT id, COALESCE(title,''), moderation_enabled FROM channels WHERE id=$1`, id).
		Scan(&c.ID, &c.Title, &c.ModerationEnabled)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChannels returns all registered channels.
func ListChannels(ctx context.Context, dbx *sql.DB) ([]Channel, error) {
	rows, err := dbx.QueryContext(ctx, `SELECT id, COALESCE(title,''), moderation_enabled FROM channels ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Channel
	for rows.Next() {
		var c Channel
		if err := rows.Scan(&c.ID, &c.Title, &c.ModerationEnabled); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertChannel registers a channel or updates its title.
func UpsertChannel(ctx context.Context, dbx *sql.DB, c *Channel) error {
	_, err := dbx.ExecContext(ctx, `INSERT INTO channels (id, title, moderation_enabled, created_at)
		VALUES ($1,$2,$3,NOW())
		ON CONFLICT(id) DO UPDATE SET title=EXCLUDED.title`, c.ID, c.Title, c.ModerationEnabled)
	return err
}

// SetModerationEnabled toggles the channel's moderation flag.
func SetModerationEnabled(ctx context.Context, dbx *sql.DB, id string, enabled bool) error {
	_, err := dbx.ExecContext(ctx, `UPDATE channels SET moderation_enabled=$1 WHERE id=$2`, enabled, id)
	return err
}
