// Package vaultfile stores the credential vault as a single JSON document,
// rewritten atomically on every save.
package vaultfile

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/natefinch/atomic"

	"github.com/ericfisherdev/docanalyst/internal/domain/model"
	"github.com/ericfisherdev/docanalyst/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.VaultStore = (*Store)(nil)

// Store is a file-backed driven.VaultStore.
type Store struct {
	path string
}

// NewStore returns a Store for the JSON document at path. The file is created
// on first save.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// document is the on-disk layout.
type document struct {
	DefaultDownloadDir string                 `json:"default_download_dir"`
	AssistantID        string                 `json:"assistant_id"`
	SavedAPIKeys       map[string]savedSecret `json:"saved_api_keys"`
	Order              []string               `json:"order,omitempty"`
}

type savedSecret struct {
	APIKeyEnc string `json:"api_key_enc"`
	PinHash   string `json:"pin_hash"`
}

// Load reads the vault. A missing or unparseable file loads as an empty
// vault; entries that cannot be decoded are skipped with a warning.
func (s *Store) Load(_ context.Context) (model.VaultSnapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.VaultSnapshot{}, nil
	}
	if err != nil {
		return model.VaultSnapshot{}, fmt.Errorf("read vault file %s: %w", s.path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.Warn("vault file is corrupt, starting empty", "path", s.path, "error", err)
		return model.VaultSnapshot{}, nil
	}

	snapshot := model.VaultSnapshot{
		Settings: model.VaultSettings{
			DefaultDownloadDir: doc.DefaultDownloadDir,
			AssistantID:        doc.AssistantID,
		},
	}

	for _, name := range orderedNames(doc) {
		rec, err := decodeSecret(name, doc.SavedAPIKeys[name])
		if err != nil {
			slog.Warn("skipping undecodable vault secret", "path", s.path, "name", name, "error", err)
			continue
		}
		snapshot.Secrets = append(snapshot.Secrets, rec)
	}

	return snapshot, nil
}

// orderedNames returns names in the stored order, followed by any names the
// order list misses (files written by older versions) sorted alphabetically.
func orderedNames(doc document) []string {
	names := make([]string, 0, len(doc.SavedAPIKeys))
	seen := make(map[string]bool, len(doc.SavedAPIKeys))

	for _, name := range doc.Order {
		if _, ok := doc.SavedAPIKeys[name]; ok && !seen[name] {
			names = append(names, name)
			seen[name] = true
		}
	}

	var rest []string
	for name := range doc.SavedAPIKeys {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	slices.Sort(rest)

	return append(names, rest...)
}

// Save rewrites the file atomically: readers see either the old or the new
// document, never a partial one.
func (s *Store) Save(_ context.Context, snapshot model.VaultSnapshot) error {
	doc := document{
		DefaultDownloadDir: snapshot.Settings.DefaultDownloadDir,
		AssistantID:        snapshot.Settings.AssistantID,
		SavedAPIKeys:       make(map[string]savedSecret, len(snapshot.Secrets)),
		Order:              make([]string, 0, len(snapshot.Secrets)),
	}
	for _, rec := range snapshot.Secrets {
		doc.SavedAPIKeys[rec.Name] = savedSecret{
			APIKeyEnc: base64.StdEncoding.EncodeToString(rec.CipherBlob),
			PinHash:   hex.EncodeToString(rec.PinHash[:]),
		}
		doc.Order = append(doc.Order, rec.Name)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal vault: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create vault dir %s: %w", dir, err)
		}
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write vault file %s: %w", s.path, err)
	}
	return nil
}

func decodeSecret(name string, saved savedSecret) (model.SecretRecord, error) {
	rec := model.SecretRecord{Name: name}

	blob, err := base64.StdEncoding.DecodeString(saved.APIKeyEnc)
	if err != nil {
		return rec, fmt.Errorf("base64 decode api_key_enc: %w", err)
	}
	rec.CipherBlob = blob

	hash, err := hex.DecodeString(saved.PinHash)
	if err != nil {
		return rec, fmt.Errorf("hex decode pin_hash: %w", err)
	}
	if len(hash) != len(rec.PinHash) {
		return rec, fmt.Errorf("pin_hash is %d bytes, want %d", len(hash), len(rec.PinHash))
	}
	copy(rec.PinHash[:], hash)

	return rec, nil
}
