// Package secrets keeps credentials out of pipeline documents. Node config
// refers to a value as ${{secrets.KEY}}; the value itself lives encrypted in
// the history database and is only decrypted while a node runs.
package secrets

import "context"

// Resolver looks up the plaintext of one secret.
type Resolver interface {
	Resolve(ctx context.Context, key string) ([]byte, error)
}

// Vault manages encrypted secrets.
type Vault interface {
	Resolver
	Store(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// SecretStore persists ciphertext. Satisfied by store.LibSQLStore.
type SecretStore interface {
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)
}
