package sqlite

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/docanalyst/internal/domain/model"
	"github.com/ericfisherdev/docanalyst/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.VaultStore = (*VaultRepo)(nil)

// Setting keys in vault_settings.
const (
	settingDownloadDir = "default_download_dir"
	settingAssistantID = "assistant_id"
)

// VaultRepo is the SQLite implementation of driven.VaultStore. Cipher blobs
// are stored base64-encoded and PIN hashes hex-encoded.
type VaultRepo struct {
	db *DB
}

// NewVaultRepo creates a VaultRepo on a migrated database.
func NewVaultRepo(db *DB) *VaultRepo {
	return &VaultRepo{db: db}
}

// Load reads the whole vault. Rows that cannot be decoded are skipped with a
// warning instead of failing the load.
func (r *VaultRepo) Load(ctx context.Context) (model.VaultSnapshot, error) {
	var snapshot model.VaultSnapshot

	settings, err := r.loadSettings(ctx)
	if err != nil {
		return model.VaultSnapshot{}, err
	}
	snapshot.Settings = settings

	const query = `SELECT name, cipher_blob, pin_hash FROM vault_secrets ORDER BY position, name`
	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return model.VaultSnapshot{}, fmt.Errorf("list vault secrets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, blob, pinHash string
		if err := rows.Scan(&name, &blob, &pinHash); err != nil {
			return model.VaultSnapshot{}, fmt.Errorf("scan vault secret: %w", err)
		}

		rec, err := decodeRecord(name, blob, pinHash)
		if err != nil {
			slog.Warn("skipping undecodable vault secret", "name", name, "error", err)
			continue
		}
		snapshot.Secrets = append(snapshot.Secrets, rec)
	}
	if err := rows.Err(); err != nil {
		return model.VaultSnapshot{}, fmt.Errorf("iterate vault secrets: %w", err)
	}

	return snapshot, nil
}

func (r *VaultRepo) loadSettings(ctx context.Context) (model.VaultSettings, error) {
	const query = `SELECT key, value FROM vault_settings`
	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return model.VaultSettings{}, fmt.Errorf("list vault settings: %w", err)
	}
	defer rows.Close()

	var settings model.VaultSettings
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return model.VaultSettings{}, fmt.Errorf("scan vault setting: %w", err)
		}
		switch key {
		case settingDownloadDir:
			settings.DefaultDownloadDir = value
		case settingAssistantID:
			settings.AssistantID = value
		default:
			slog.Debug("ignoring unknown vault setting", "key", key)
		}
	}
	if err := rows.Err(); err != nil {
		return model.VaultSettings{}, fmt.Errorf("iterate vault settings: %w", err)
	}
	return settings, nil
}

// Save replaces the stored vault with snapshot in a single transaction.
func (r *VaultRepo) Save(ctx context.Context, snapshot model.VaultSnapshot) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin vault save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM vault_secrets`); err != nil {
		return fmt.Errorf("clear vault secrets: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM vault_settings`); err != nil {
		return fmt.Errorf("clear vault settings: %w", err)
	}

	const insertSetting = `INSERT INTO vault_settings (key, value) VALUES (?, ?)`
	for key, value := range map[string]string{
		settingDownloadDir: snapshot.Settings.DefaultDownloadDir,
		settingAssistantID: snapshot.Settings.AssistantID,
	} {
		if _, err := tx.ExecContext(ctx, insertSetting, key, value); err != nil {
			return fmt.Errorf("save vault setting %q: %w", key, err)
		}
	}

	const insertSecret = `INSERT INTO vault_secrets (name, cipher_blob, pin_hash, position) VALUES (?, ?, ?, ?)`
	for i, rec := range snapshot.Secrets {
		_, err := tx.ExecContext(ctx, insertSecret,
			rec.Name,
			base64.StdEncoding.EncodeToString(rec.CipherBlob),
			hex.EncodeToString(rec.PinHash[:]),
			i,
		)
		if err != nil {
			return fmt.Errorf("save vault secret %q: %w", rec.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit vault save: %w", err)
	}
	return nil
}

func decodeRecord(name, blob, pinHash string) (model.SecretRecord, error) {
	rec := model.SecretRecord{Name: name}

	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return rec, fmt.Errorf("base64 decode cipher blob: %w", err)
	}
	rec.CipherBlob = data

	hash, err := hex.DecodeString(pinHash)
	if err != nil {
		return rec, fmt.Errorf("hex decode pin hash: %w", err)
	}
	if len(hash) != len(rec.PinHash) {
		return rec, fmt.Errorf("pin hash is %d bytes, want %d", len(hash), len(rec.PinHash))
	}
	copy(rec.PinHash[:], hash)

	return rec, nil
}
