package model

// SecretRecord is one named credential protected by a PIN. PinHash is the
// SHA-256 digest of the PIN; the PIN itself is never stored.
type SecretRecord struct {
	Name       string
	CipherBlob []byte
	PinHash    [32]byte
}

// VaultSettings holds the vault-wide fields persisted next to the secrets.
type VaultSettings struct {
	DefaultDownloadDir string
	AssistantID        string
}

// VaultSnapshot is the persisted form of a vault: its settings plus every
// secret record in registration order.
type VaultSnapshot struct {
	Settings VaultSettings
	Secrets  []SecretRecord
}

// Credentials identify the caller to the remote assistant service.
type Credentials struct {
	APIKey      string
	AssistantID string
}
