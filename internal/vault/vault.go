// Package vault holds the custodial signing keys of spenders, merchants and
// the treasury. Seeds are sealed at rest and only ever opened for the
// duration of a single Sign call.
package vault

import (
	"context"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"campuschain/internal/core"
	"campuschain/internal/ledger"
	"campuschain/internal/log"
	"campuschain/internal/storage"

	"golang.org/x/crypto/chacha20poly1305"
)

// Store persists sealed credentials. storage.SQLiteRepository satisfies it.
type Store interface {
	InsertCredential(ctx context.Context, rec storage.CredentialRecord) error
	GetCredential(ctx context.Context, principalID string) (storage.CredentialRecord, error)
}

// Vault creates and uses custodial credentials.
type Vault struct {
	store  Store
	aead   cipher.AEAD
	rand   io.Reader
	now    func() time.Time
	logger *log.Logger
}

// New builds a vault sealing seeds with XChaCha20-Poly1305 under masterKey,
// which must be 32 bytes.
func New(store Store, masterKey []byte) (*Vault, error) {
	aead, err := chacha20poly1305.NewX(masterKey)
	if err != nil {
		return nil, errors.New("vault: master key must be 32 bytes")
	}
	return &Vault{
		store:  store,
		aead:   aead,
		rand:   rand.Reader,
		now:    time.Now,
		logger: log.WithComponent(log.ComponentVault),
	}, nil
}

// Create generates a key pair for principalID and returns its ledger address.
// It fails with core.ErrCredentialExists when one is already held.
func (v *Vault) Create(ctx context.Context, principalID string) (string, error) {
	if principalID == "" {
		return "", fmt.Errorf("%w: empty principal id", core.ErrInvalidRequest)
	}

	pub, priv, err := ed25519.GenerateKey(v.rand)
	if err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	seed := priv.Seed()
	defer wipe(seed)
	defer wipe(priv)

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(v.rand, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, seed, []byte(principalID))

	address, err := ledger.AddressFromPublicKey(pub)
	if err != nil {
		return "", err
	}
	if err := v.store.InsertCredential(ctx, storage.CredentialRecord{
		PrincipalID: principalID,
		Address:     address,
		Sealed:      sealed,
		CreatedAt:   v.now(),
	}); err != nil {
		if errors.Is(err, core.ErrCredentialExists) {
			return "", err
		}
		return "", fmt.Errorf("store credential: %w", err)
	}

	v.logger.InfoContext(ctx, "Credential created",
		log.FieldOperation, log.OpCreate,
		log.FieldPrincipalID, principalID,
		log.FieldAddress, address)
	return address, nil
}

// Sign returns an ed25519 signature over payload made with principalID's key.
func (v *Vault) Sign(ctx context.Context, principalID string, payload []byte) ([]byte, error) {
	rec, err := v.store.GetCredential(ctx, principalID)
	if err != nil {
		return nil, err
	}

	seed, err := v.open(rec)
	if err != nil {
		// Never include ciphertext or key material in the error.
		v.logger.ErrorContext(ctx, "Credential could not be opened",
			log.FieldOperation, log.OpSign,
			log.FieldPrincipalID, principalID)
		return nil, fmt.Errorf("open credential for %s: integrity check failed", principalID)
	}
	defer wipe(seed)

	priv := ed25519.NewKeyFromSeed(seed)
	defer wipe(priv)
	return ed25519.Sign(priv, payload), nil
}

// Address returns the public ledger address of principalID.
func (v *Vault) Address(ctx context.Context, principalID string) (string, error) {
	rec, err := v.store.GetCredential(ctx, principalID)
	if err != nil {
		return "", err
	}
	return rec.Address, nil
}

func (v *Vault) open(rec storage.CredentialRecord) ([]byte, error) {
	n := v.aead.NonceSize()
	if len(rec.Sealed) < n {
		return nil, errors.New("sealed credential too short")
	}
	seed, err := v.aead.Open(nil, rec.Sealed[:n], rec.Sealed[n:], []byte(rec.PrincipalID))
	if err != nil {
		return nil, err
	}
	if len(seed) != ed25519.SeedSize {
		wipe(seed)
		return nil, errors.New("unexpected seed size")
	}
	return seed, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
