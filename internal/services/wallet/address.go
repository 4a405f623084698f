// Package wallet implements the wallet worker set (C9): deposit address
// derivation, deposit ingestion and confirmation watching, and the
// withdrawal worker, all operating over the platform's single HD seed and
// the configured EVM settlement chain.
package wallet

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/agentmarket/engine/internal/models"
	"github.com/agentmarket/engine/internal/services/hdkey"
)

// AddressRepository persists deposit addresses.
type AddressRepository interface {
	GetDepositAddress(ctx context.Context, agentID string) (*models.DepositAddress, error)
	NextDerivationIndex(ctx context.Context) (uint32, error)
	SaveDepositAddress(ctx context.Context, addr *models.DepositAddress) error
}

// AddressService derives and persists one deposit address per agent from
// the platform's HD seed.
type AddressService struct {
	repo    AddressRepository
	hd      *hdkey.HDKeyService
	seed    []byte
	chainID string
}

func NewAddressService(repo AddressRepository, hd *hdkey.HDKeyService, seed []byte, chainID string) *AddressService {
	return &AddressService{repo: repo, hd: hd, seed: seed, chainID: chainID}
}

// GetOrDeriveDepositAddress returns the agent's persisted deposit address,
// deriving one at the next unused index (m/44'/60'/0'/0/{index}) on first
// request.
func (s *AddressService) GetOrDeriveDepositAddress(ctx context.Context, agentID string) (*models.DepositAddress, error) {
	existing, err := s.repo.GetDepositAddress(ctx, agentID)
	if err == nil && existing != nil {
		return existing, nil
	}

	index, err := s.repo.NextDerivationIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocate derivation index: %w", err)
	}

	master, err := s.hd.NewMasterKey(s.seed)
	if err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}

	path := fmt.Sprintf("m/44'/60'/0'/0/%d", index)
	child, err := s.hd.DerivePath(master, path)
	if err != nil {
		return nil, fmt.Errorf("derive path %s: %w", path, err)
	}

	ecdsaPub, err := child.ECPubKey()
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	address := crypto.PubkeyToAddress(*ecdsaPub.ToECDSA()).Hex()

	addr := &models.DepositAddress{
		AgentID: agentID,
		Address: address,
		Index:   index,
		ChainID: s.chainID,
	}
	if err := s.repo.SaveDepositAddress(ctx, addr); err != nil {
		return nil, err
	}
	return addr, nil
}

// DeriveAgentMasterKey returns the root of the agent's own HD subtree
// (m/44'/60'/0'/0/{index}, the same index as its settlement-chain deposit
// address), for the multi-chain address linker to fan out per chain from.
// Each agent gets a distinct subtree because each has a distinct index.
func (s *AddressService) DeriveAgentMasterKey(ctx context.Context, agentID string) (*hdkeychain.ExtendedKey, error) {
	depositAddr, err := s.GetOrDeriveDepositAddress(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("resolve agent derivation index: %w", err)
	}

	master, err := s.hd.NewMasterKey(s.seed)
	if err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}

	path := fmt.Sprintf("m/44'/60'/0'/0/%d", depositAddr.Index)
	return s.hd.DerivePath(master, path)
}
