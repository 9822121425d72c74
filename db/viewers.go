package db

import (
	"context"
	"database/sql"
	"time"
)

// AdminState is the cached moderator-status result for a viewer within a session.
type AdminState string

const (
	AdminUnknown AdminState = "unknown"
	AdminYes     AdminState = "yes"
	AdminNo      AdminState = "no"
)

// WelcomeState tracks per-session greeting state. WelcomeUnknown is an opt-out:
// welcome logic is never evaluated for that viewer and LIVE-entry resets must
// not overwrite it.
type WelcomeState string

const (
	WelcomeUnknown WelcomeState = "unknown"
	WelcomePending WelcomeState = "pending"
	WelcomeSent    WelcomeState = "sent"
)

// Viewer is a per-(channel, viewer) economy and moderation row. Created on the
// first observed chat message; never deleted.
type Viewer struct {
	ChannelID    string
	ViewerID     string
	DisplayName  string
	Points       int64
	WatchMinutes int64
	LastActive   time.Time
	AdminState   AdminState
	WelcomeState WelcomeState
}

const viewerColumns = `channel_id, viewer_id, COALESCE(display_name,''), points, watch_minutes,
	last_active, admin_state, welcome_state`

func scanViewer(row interface{ Scan(...any) error }) (*Viewer, error) {
	var v Viewer
	var lastActive sql.NullTime
	if err := row.Scan(&v.ChannelID, &v.ViewerID, &v.DisplayName, &v.Points, &v.WatchMinutes,
		&lastActive, &v.AdminState, &v.WelcomeState); err != nil {
		return nil, err
	}
	if lastActive.Valid {
		v.LastActive = lastActive.Time
	}
	return &v, nil
}

// GetViewer returns a viewer row, or nil when the viewer was never seen in the channel.
func GetViewer(ctx context.Context, dbx *sql.DB, channelID, viewerID string) (*Viewer, error) {
	row := dbx.QueryRowContext(ctx, `SELECT `+viewerColumns+` FROM viewers WHERE channel_id=$1 AND viewer_id=$2`, channelID, viewerID)
	v, err := scanViewer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

// EnsureViewer returns the viewer row, creating it on first sight.
func EnsureViewer(ctx context.Context, dbx *sql.DB, channelID, viewerID, displayName string, now time.Time) (*Viewer, error) {
	v, err := GetViewer(ctx, dbx, channelID, viewerID)
	if err != nil {
		return nil, err
	}
	if v != nil {
		return v, nil
	}
	_, err = dbx.ExecContext(ctx, `INSERT INTO viewers (channel_id, viewer_id, display_name, last_active, created_at)
		VALUES ($1,$2,$3,$4,NOW()) ON CONFLICT (channel_id, viewer_id) DO NOTHING`,
		channelID, viewerID, displayName, now)
	if err != nil {
		return nil, err
	}
	return GetViewer(ctx, dbx, channelID, viewerID)
}

// UpdateViewerActivity refreshes display name and last_active.
func UpdateViewerActivity(ctx context.Context, dbx *sql.DB, channelID, viewerID, displayName string, at time.Time) error {
	_, err := dbx.ExecContext(ctx, `UPDATE viewers SET display_name=$1, last_active=$2, updated_at=NOW()
		WHERE channel_id=$3 AND viewer_id=$4`, displayName, at, channelID, viewerID)
	return err
}

// SetViewerPoints writes an absolute balance (gamble settlement result).
func SetViewerPoints(ctx context.Context, dbx *sql.DB, channelID, viewerID string, points int64) error {
	_, err := dbx.ExecContext(ctx, `UPDATE viewers SET points=$1, updated_at=NOW() WHERE channel_id=$2 AND viewer_id=$3`,
		points, channelID, viewerID)
	return err
}

// SetWelcomeState writes the viewer's greeting state.
func SetWelcomeState(ctx context.Context, dbx *sql.DB, channelID, viewerID string, s WelcomeState) error {
	_, err := dbx.ExecContext(ctx, `UPDATE viewers SET welcome_state=$1, updated_at=NOW() WHERE channel_id=$2 AND viewer_id=$3`,
		s, channelID, viewerID)
	return err
}

// SetAdminState writes the viewer's cached moderator-status result.
func SetAdminState(ctx context.Context, dbx *sql.DB, channelID, viewerID string, s AdminState) error {
	_, err := dbx.ExecContext(ctx, `UPDATE viewers SET admin_state=$1, updated_at=NOW() WHERE channel_id=$2 AND viewer_id=$3`,
		s, channelID, viewerID)
	return err
}

// ResetWelcomeStates flips every welcomed viewer in a channel back to pending
// at LIVE entry. Opt-out viewers (welcome_state='unknown') are never touched.
func ResetWelcomeStates(ctx context.Context, dbx *sql.DB, channelID string) error {
	_, err := dbx.ExecContext(ctx, `UPDATE viewers SET welcome_state='pending', updated_at=NOW()
		WHERE channel_id=$1 AND welcome_state <> 'unknown'`, channelID)
	return err
}

// ResetAdminStates clears cached moderator status so it is re-derived for a new broadcast.
func ResetAdminStates(ctx context.Context, dbx *sql.DB, channelID string) error {
	_, err := dbx.ExecContext(ctx, `UPDATE viewers SET admin_state='unknown', updated_at=NOW() WHERE channel_id=$1`, channelID)
	return err
}

// AwardActiveViewers grants points and watch minutes to every viewer whose
// last_active falls within the trailing window. Returns the number of rows awarded.
func AwardActiveViewers(ctx context.Context, dbx *sql.DB, channelID string, points, minutes int64, since time.Time) (int64, error) {
	res, err := dbx.ExecContext(ctx, `UPDATE viewers SET points=points+$1, watch_minutes=watch_minutes+$2, updated_at=NOW()
		WHERE channel_id=$3 AND last_active >= $4`, points, minutes, channelID, since)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// TopViewers returns up to limit viewers ordered by the given column, which
// must be one of "points" or "watch_minutes".
func TopViewers(ctx context.Context, dbx *sql.DB, channelID, by string, limit int) ([]Viewer, error) {
	order := `points`
	if by == "watch_minutes" {
		order = `watch_minutes`
	}
	rows, err := dbx.QueryContext(ctx, `SELECT `+viewerColumns+` FROM viewers
		WHERE channel_id=$1 ORDER BY `+order+` DESC, viewer_id ASC LIMIT $2`, channelID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Viewer
	for rows.Next() {
		v, err := scanViewer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}
