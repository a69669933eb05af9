package driven

import (
	"context"

	"github.com/ericfisherdev/docanalyst/internal/domain/model"
)

// VaultStore defines the driven port for persisting the credential vault.
// The vault is read once at startup and rewritten wholesale on every mutation.
type VaultStore interface {
	// Load returns the persisted vault. Missing or corrupt data yields an empty
	// snapshot rather than an error; errors are reserved for I/O failures.
	Load(ctx context.Context) (model.VaultSnapshot, error)

	// Save replaces the persisted vault with the given snapshot.
	Save(ctx context.Context, snapshot model.VaultSnapshot) error
}
