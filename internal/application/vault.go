package application

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/ericfisherdev/docanalyst/internal/domain/model"
	"github.com/ericfisherdev/docanalyst/internal/domain/port/driven"
)

// pinLength is the number of decimal digits a PIN must have.
const pinLength = 4

// Vault keeps named secrets encrypted under per-secret PINs. It is loaded
// once from its store and flushed back after every mutation. All methods are
// serialized by a single mutex.
type Vault struct {
	mu       sync.Mutex
	store    driven.VaultStore
	sealer   *Sealer
	settings model.VaultSettings
	records  []model.SecretRecord
}

// OpenVault loads the vault from store. salt and iterations configure key
// derivation for every secret in this vault.
func OpenVault(ctx context.Context, store driven.VaultStore, salt []byte, iterations int) (*Vault, error) {
	snapshot, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load vault: %w", err)
	}

	slog.Debug("vault loaded", "secrets", len(snapshot.Secrets))

	return &Vault{
		store:    store,
		sealer:   NewSealer(salt, iterations),
		settings: snapshot.Settings,
		records:  slices.Clone(snapshot.Secrets),
	}, nil
}

// ValidatePin reports whether pin matches the PIN policy: exactly four ASCII
// decimal digits.
func ValidatePin(pin string) error {
	if len(pin) != pinLength {
		return fmt.Errorf("%w: must be %d digits", ErrInvalidPin, pinLength)
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return fmt.Errorf("%w: must be %d digits", ErrInvalidPin, pinLength)
		}
	}
	return nil
}

// RegisterSecret encrypts plaintext under pin and stores it as name. An
// existing name is rejected; delete it first to replace it.
func (v *Vault) RegisterSecret(ctx context.Context, name, plaintext, pin string) error {
	if name == "" {
		return ErrInvalidName
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.indexOf(name) >= 0 {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	if err := ValidatePin(pin); err != nil {
		return err
	}

	blob, err := v.sealer.Protect(plaintext, pin)
	if err != nil {
		return fmt.Errorf("protect secret %q: %w", name, err)
	}

	v.records = append(v.records, model.SecretRecord{
		Name:       name,
		CipherBlob: blob,
		PinHash:    sha256.Sum256([]byte(pin)),
	})

	return v.flushLocked(ctx)
}

// UnlockSecret returns the plaintext stored as name. A PIN whose hash does
// not match is rejected with ErrInvalidPin before any decryption is attempted.
func (v *Vault) UnlockSecret(_ context.Context, name, pin string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	i := v.indexOf(name)
	if i < 0 {
		return "", fmt.Errorf("%w: %q", ErrSecretNotFound, name)
	}
	rec := v.records[i]

	hash := sha256.Sum256([]byte(pin))
	if subtle.ConstantTimeCompare(hash[:], rec.PinHash[:]) != 1 {
		return "", fmt.Errorf("%w: PIN does not match secret %q", ErrInvalidPin, name)
	}

	plaintext, err := v.sealer.Reveal(rec.CipherBlob, pin)
	if err != nil {
		return "", fmt.Errorf("reveal secret %q: %w", name, err)
	}
	return plaintext, nil
}

// DeleteSecret removes name. Deleting an absent name is a no-op and does not
// touch the store.
func (v *Vault) DeleteSecret(ctx context.Context, name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	i := v.indexOf(name)
	if i < 0 {
		return nil
	}
	v.records = slices.Delete(v.records, i, i+1)

	return v.flushLocked(ctx)
}

// ListNames returns the stored secret names in registration order.
func (v *Vault) ListNames() []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	names := make([]string, 0, len(v.records))
	for _, rec := range v.records {
		names = append(names, rec.Name)
	}
	return names
}

// Settings returns the vault-wide settings.
func (v *Vault) Settings() model.VaultSettings {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.settings
}

// UpdateSettings replaces the vault-wide settings and flushes.
func (v *Vault) UpdateSettings(ctx context.Context, settings model.VaultSettings) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.settings = settings
	return v.flushLocked(ctx)
}

// Flush writes the current in-memory vault to the store. It is the retry path
// after a mutation reported ErrFlush.
func (v *Vault) Flush(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.flushLocked(ctx)
}

// flushLocked persists the vault. A failure leaves the in-memory state as is.
func (v *Vault) flushLocked(ctx context.Context) error {
	snapshot := model.VaultSnapshot{
		Settings: v.settings,
		Secrets:  slices.Clone(v.records),
	}
	if err := v.store.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("%w: %w", ErrFlush, err)
	}
	return nil
}

func (v *Vault) indexOf(name string) int {
	return slices.IndexFunc(v.records, func(rec model.SecretRecord) bool {
		return rec.Name == name
	})
}
