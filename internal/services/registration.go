package services

import (
	"context"
	"errors"
	"fmt"

	"campuschain/internal/core"
	"campuschain/internal/log"
)

// RegistrationStore persists principals and their registry entries.
type RegistrationStore interface {
	CreatePrincipal(ctx context.Context, p core.Principal) error
	GetPrincipal(ctx context.Context, id string) (core.Principal, error)
	LinkGuardian(ctx context.Context, guardianID, spenderID string) error
	CreateMerchant(ctx context.Context, m core.Merchant) error
}

// CredentialIssuer creates custodial key pairs.
type CredentialIssuer interface {
	Create(ctx context.Context, principalID string) (string, error)
	Address(ctx context.Context, principalID string) (string, error)
}

// RegistrationService onboards principals. Custodial roles get a vault
// credential and their address recorded on the principal.
type RegistrationService struct {
	store  RegistrationStore
	vault  CredentialIssuer
	logger *log.Logger
}

func NewRegistrationService(store RegistrationStore, vault CredentialIssuer) *RegistrationService {
	return &RegistrationService{
		store:  store,
		vault:  vault,
		logger: log.WithComponent(log.ComponentApp),
	}
}

// Register creates principal p and, for custodial roles, its credential.
// The credential is issued before the principal row is written, so a
// principal never exists without its address. A credential left over from
// an attempt that failed after issuing it is reused on retry.
func (s *RegistrationService) Register(ctx context.Context, p core.Principal) (core.Principal, error) {
	p.Address = ""
	if !p.Role.Custodial() {
		if err := s.store.CreatePrincipal(ctx, p); err != nil {
			return core.Principal{}, err
		}
		return p, nil
	}

	if err := p.Validate(); err != nil {
		return core.Principal{}, fmt.Errorf("%w: %v", core.ErrInvalidRequest, err)
	}
	_, err := s.store.GetPrincipal(ctx, p.ID)
	switch {
	case err == nil:
		return core.Principal{}, fmt.Errorf("%w: principal %s already registered", core.ErrInvalidRequest, p.ID)
	case !errors.Is(err, core.ErrNotFound):
		return core.Principal{}, err
	}

	address, err := s.vault.Create(ctx, p.ID)
	if errors.Is(err, core.ErrCredentialExists) {
		address, err = s.vault.Address(ctx, p.ID)
	}
	if err != nil {
		return core.Principal{}, fmt.Errorf("create credential: %w", err)
	}
	p.Address = address
	if err := s.store.CreatePrincipal(ctx, p); err != nil {
		return core.Principal{}, err
	}

	s.logger.InfoContext(ctx, "Principal registered",
		log.FieldPrincipalID, p.ID,
		"role", string(p.Role),
		log.FieldAddress, address)
	return p, nil
}

// RegisterMerchant registers a merchant principal together with its
// registry entry.
func (s *RegistrationService) RegisterMerchant(ctx context.Context, id, name string, category core.Category) (core.Merchant, error) {
	if err := category.Validate(); err != nil {
		return core.Merchant{}, fmt.Errorf("%w: %v", core.ErrInvalidRequest, err)
	}
	p, err := s.Register(ctx, core.Principal{ID: id, Role: core.RoleMerchant, DisplayName: name})
	if err != nil {
		return core.Merchant{}, err
	}
	m := core.Merchant{PrincipalID: p.ID, Name: name, Category: category, Address: p.Address}
	if err := s.store.CreateMerchant(ctx, m); err != nil {
		return core.Merchant{}, err
	}
	return m, nil
}

// LinkGuardian lets guardianID read spenderID's aggregates and fund them.
func (s *RegistrationService) LinkGuardian(ctx context.Context, guardianID, spenderID string) error {
	return s.store.LinkGuardian(ctx, guardianID, spenderID)
}
