package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/onnwee/chatwarden/crypto"
)

// Credential is one set of API authorization material usable to act as the engine.
// Tokens are encrypted at rest when ENCRYPTION_KEY is configured.
type Credential struct {
	ID              string
	Label           string
	ClientID        string
	ClientSecret    string
	APIKey          string
	AccessToken     string
	RefreshToken    string
	TokenExpiry     time.Time
	Active          bool
	Priority        int
	QuotaExceeded   bool
	QuotaExceededAt time.Time
	LastUsed        time.Time
}

const credentialColumns = `id, COALESCE(label,''), client_id, client_secret, COALESCE(api_key,''),
	COALESCE(access_token,''), COALESCE(refresh_token,''), token_expiry, active, priority,
	quota_exceeded, quota_exceeded_at, last_used, COALESCE(encryption_version, 0)`

func scanCredential(row interface{ Scan(...any) error }) (*Credential, error) {
	var c Credential
	var expiry, quotaAt, lastUsed sql.NullTime
	var encVersion int
	if err := row.Scan(&c.ID, &c.Label, &c.ClientID, &c.ClientSecret, &c.APIKey,
		&c.AccessToken, &c.RefreshToken, &expiry, &c.Active, &c.Priority,
		&c.QuotaExceeded, &quotaAt, &lastUsed, &encVersion); err != nil {
		return nil, err
	}
	if expiry.Valid {
		c.TokenExpiry = expiry.Time
	}
	if quotaAt.Valid {
		c.QuotaExceededAt = quotaAt.Time
	}
	if lastUsed.Valid {
		c.LastUsed = lastUsed.Time
	}
	if encVersion == 1 {
		enc, err := getEncryptor()
		if err != nil {
			return nil, fmt.Errorf("get encryptor for decryption: %w", err)
		}
		if enc == nil {
			return nil, fmt.Errorf("credential %s tokens are encrypted but ENCRYPTION_KEY not configured", c.ID)
		}
		if c.AccessToken != "" {
			dec, err := crypto.DecryptString(enc, c.AccessToken)
			if err != nil {
				return nil, fmt.Errorf("decrypt access token: %w", err)
			}
			c.AccessToken = dec
		}
		if c.RefreshToken != "" {
			dec, err := crypto.DecryptString(enc, c.RefreshToken)
			if err != nil {
				return nil, fmt.Errorf("decrypt refresh token: %w", err)
			}
			c.RefreshToken = dec
		}
	}
	return &c, nil
}

// ListCredentials returns all credentials ordered by priority ascending.
func ListCredentials(ctx context.Context, dbx *sql.DB) ([]Credential, error) {
	rows, err := dbx.QueryContext(ctx, `SELECT `+credentialColumns+` FROM credentials ORDER BY priority ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// GetCredential returns one credential by id, or nil when absent.
func GetCredential(ctx context.Context, dbx *sql.DB, id string) (*Credential, error) {
	row := dbx.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE id=$1`, id)
	c, err := scanCredential(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// UpsertCredential inserts or updates a credential's static fields. Token fields
// are written through SaveCredentialTokens so they pass through encryption.
func UpsertCredential(ctx context.Context, dbx *sql.DB, c *Credential) error {
	_, err := dbx.ExecContext(ctx, `INSERT INTO credentials (id, label, client_id, client_secret, api_key, active, priority, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
		ON CONFLICT(id) DO UPDATE SET label=EXCLUDED.label, client_id=EXCLUDED.client_id,
			client_secret=EXCLUDED.client_secret, api_key=EXCLUDED.api_key,
			active=EXCLUDED.active, priority=EXCLUDED.priority, updated_at=NOW()`,
		c.ID, c.Label, c.ClientID, c.ClientSecret, c.APIKey, c.Active, c.Priority)
	return err
}

// SaveCredentialTokens persists a credential's OAuth token triple immediately,
// encrypting when configured. An empty refresh token preserves the stored one.
func SaveCredentialTokens(ctx context.Context, dbx *sql.DB, id, access, refresh string, expiry time.Time) error {
	enc, err := getEncryptor()
	if err != nil {
		return fmt.Errorf("get encryptor: %w", err)
	}
	encVersion := 0
	accessToStore := access
	refreshToStore := refresh
	if enc != nil {
		encVersion = 1
		if access != "" {
			if accessToStore, err = crypto.EncryptString(enc, access); err != nil {
				return fmt.Errorf("encrypt access token: %w", err)
			}
		}
		if refresh != "" {
			if refreshToStore, err = crypto.EncryptString(enc, refresh); err != nil {
				return fmt.Errorf("encrypt refresh token: %w", err)
			}
		}
	}
	if refresh == "" {
		_, err = dbx.ExecContext(ctx, `UPDATE credentials SET access_token=$1, token_expiry=$2,
			encryption_version=$3, updated_at=NOW() WHERE id=$4`, accessToStore, expiry, encVersion, id)
		return err
	}
	_, err = dbx.ExecContext(ctx, `UPDATE credentials SET access_token=$1, refresh_token=$2, token_expiry=$3,
		encryption_version=$4, updated_at=NOW() WHERE id=$5`, accessToStore, refreshToStore, expiry, encVersion, id)
	return err
}

// SetCredentialQuota sets or clears the quota-exhaustion flag.
func SetCredentialQuota(ctx context.Context, dbx *sql.DB, id string, exceeded bool, at time.Time) error {
	if exceeded {
		_, err := dbx.ExecContext(ctx, `UPDATE credentials SET quota_exceeded=TRUE, quota_exceeded_at=$1, updated_at=NOW() WHERE id=$2`, at, id)
		return err
	}
	_, err := dbx.ExecContext(ctx, `UPDATE credentials SET quota_exceeded=FALSE, quota_exceeded_at=NULL, updated_at=NOW() WHERE id=$1`, id)
	return err
}

// TouchCredential records the instant a credential was handed out.
func TouchCredential(ctx context.Context, dbx *sql.DB, id string, at time.Time) error {
	_, err := dbx.ExecContext(ctx, `UPDATE credentials SET last_used=$1 WHERE id=$2`, at, id)
	return err
}
