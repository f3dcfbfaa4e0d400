package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"regexp"

	"github.com/rendis/dataflow/pkg/schema"
)

const defaultIterations = 100_000

var keyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// VaultConfig selects how the AES key is obtained. Key wins over Passphrase.
type VaultConfig struct {
	Key        []byte // raw 32-byte key
	Passphrase string
	Salt       []byte // required with Passphrase
	Iterations int    // PBKDF2 rounds, default 100000
}

// AESVault seals every value with AES-256-GCM under a random nonce before it
// reaches the store.
type AESVault struct {
	store SecretStore
	aead  cipher.AEAD
}

func NewAESVault(s SecretStore, cfg VaultConfig) (*AESVault, error) {
	key, err := vaultKey(cfg)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &AESVault{store: s, aead: aead}, nil
}

func vaultKey(cfg VaultConfig) ([]byte, error) {
	switch {
	case len(cfg.Key) > 0:
		if len(cfg.Key) != 32 {
			return nil, schema.NewErrorf(schema.ErrCodeVault, "vault key must be 32 bytes, got %d", len(cfg.Key))
		}
		return cfg.Key, nil
	case cfg.Passphrase == "":
		return nil, schema.NewError(schema.ErrCodeVault, "a vault key or passphrase is required")
	case len(cfg.Salt) == 0:
		return nil, schema.NewError(schema.ErrCodeVault, "a salt is required with a passphrase")
	}
	rounds := cfg.Iterations
	if rounds <= 0 {
		rounds = defaultIterations
	}
	return pbkdf2.Key(sha256.New, cfg.Passphrase, cfg.Salt, rounds, 32)
}

// ValidKey reports whether key can be referenced as ${{secrets.KEY}}.
func ValidKey(key string) bool { return keyPattern.MatchString(key) }

func (v *AESVault) Store(ctx context.Context, key string, value []byte) error {
	if !ValidKey(key) {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid secret name %q: use letters, digits and underscores", key)
	}
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	return v.store.StoreSecret(ctx, key, v.aead.Seal(nonce, nonce, value, nil))
}

func (v *AESVault) Resolve(ctx context.Context, key string) ([]byte, error) {
	sealed, err := v.store.GetSecret(ctx, key)
	if err != nil {
		return nil, err
	}
	n := v.aead.NonceSize()
	if len(sealed) < n {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "secret %q is corrupt", key)
	}
	plain, err := v.aead.Open(nil, sealed[:n], sealed[n:], nil)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "cannot decrypt secret %q; wrong vault passphrase?", key).WithCause(err)
	}
	return plain, nil
}

func (v *AESVault) Delete(ctx context.Context, key string) error {
	return v.store.DeleteSecret(ctx, key)
}

func (v *AESVault) List(ctx context.Context) ([]string, error) {
	return v.store.ListSecrets(ctx)
}
