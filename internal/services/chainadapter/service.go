// Package chainadapter wires the platform's treasury wallet to the
// configured EVM settlement chain through the arcsign/chainadapter
// interface: one cached adapter per chain id, used by the withdrawal
// worker.
package chainadapter

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/arcsign/chainadapter"
	"github.com/arcsign/chainadapter/ethereum"
	"github.com/arcsign/chainadapter/provider"
	"github.com/arcsign/chainadapter/rpc"
	"github.com/arcsign/chainadapter/storage"
)

// Service manages ChainAdapter instances for the system's EVM rail(s).
//
// Thread Safety:
// - All methods are thread-safe
// - Uses mutex for adapter cache access
// - Adapter instances are immutable after creation
type Service struct {
	adapters      map[string]chainadapter.ChainAdapter // cache: chainId -> adapter
	txStore       storage.TransactionStateStore
	alchemyAPIKey string
	mu            sync.RWMutex
}

// NewService creates a new ChainAdapter service.
//
// Parameters:
// - txStore: Optional transaction state store for broadcast idempotency (pass nil for in-memory)
// - alchemyAPIKey: API key used to resolve the default RPC endpoint per
//   chain via the Alchemy network table (empty falls back to a local node)
func NewService(txStore storage.TransactionStateStore, alchemyAPIKey string) *Service {
	if txStore == nil {
		txStore = storage.NewMemoryTxStore()
	}

	return &Service{
		adapters:      make(map[string]chainadapter.ChainAdapter),
		txStore:       txStore,
		alchemyAPIKey: alchemyAPIKey,
	}
}

// evmChainNumericIDs maps the platform's configured chain ids to their
// EVM numeric chain id, for the two settlement networks plus Ethereum
// mainnet/Sepolia.
var evmChainNumericIDs = map[string]int64{
	"ethereum":         1,
	"ethereum-sepolia": 11155111,
	"base":             8453,
	"base-sepolia":     84532,
}

// GetAdapter returns a ChainAdapter instance for the specified chainId.
//
// Parameters:
// - chainId: one of the keys in evmChainNumericIDs
// - rpcEndpoint: Optional RPC endpoint URL (uses default if empty)
//
// Returns:
// - ChainAdapter instance
// - Error if chainId not supported or adapter initialization fails
func (s *Service) GetAdapter(ctx context.Context, chainId string, rpcEndpoint string) (chainadapter.ChainAdapter, error) {
	s.mu.RLock()
	if adapter, exists := s.adapters[chainId]; exists {
		s.mu.RUnlock()
		return adapter, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if adapter, exists := s.adapters[chainId]; exists {
		return adapter, nil
	}

	numericID, ok := evmChainNumericIDs[chainId]
	if !ok {
		return nil, fmt.Errorf("unsupported chainId: %s", chainId)
	}

	if rpcEndpoint == "" {
		rpcEndpoint = s.resolveRPCEndpoint(chainId)
	}

	rpcClient, err := rpc.NewHTTPRPCClient([]string{rpcEndpoint}, 30*time.Second, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create RPC client: %w", err)
	}

	adapter, err := ethereum.NewEthereumAdapter(rpcClient, s.txStore, numericID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create adapter for %s: %w", chainId, err)
	}

	s.adapters[chainId] = adapter

	return adapter, nil
}

// BuildTransaction constructs an unsigned transaction.
func (s *Service) BuildTransaction(ctx context.Context, chainId string, req *chainadapter.TransactionRequest, rpcEndpoint string) (*chainadapter.UnsignedTransaction, error) {
	adapter, err := s.GetAdapter(ctx, chainId, rpcEndpoint)
	if err != nil {
		return nil, err
	}

	return adapter.Build(ctx, req)
}

// EstimateFee calculates fee estimates with confidence bounds.
func (s *Service) EstimateFee(ctx context.Context, chainId string, req *chainadapter.TransactionRequest, rpcEndpoint string) (*chainadapter.FeeEstimate, error) {
	adapter, err := s.GetAdapter(ctx, chainId, rpcEndpoint)
	if err != nil {
		return nil, err
	}

	return adapter.Estimate(ctx, req)
}

// SignTransaction signs an unsigned transaction using the provided signer.
func (s *Service) SignTransaction(ctx context.Context, chainId string, unsigned *chainadapter.UnsignedTransaction, signer chainadapter.Signer, rpcEndpoint string) (*chainadapter.SignedTransaction, error) {
	adapter, err := s.GetAdapter(ctx, chainId, rpcEndpoint)
	if err != nil {
		return nil, err
	}

	return adapter.Sign(ctx, unsigned, signer)
}

// BroadcastTransaction submits a signed transaction to the blockchain network.
func (s *Service) BroadcastTransaction(ctx context.Context, chainId string, signed *chainadapter.SignedTransaction, rpcEndpoint string) (*chainadapter.BroadcastReceipt, error) {
	adapter, err := s.GetAdapter(ctx, chainId, rpcEndpoint)
	if err != nil {
		return nil, err
	}

	return adapter.Broadcast(ctx, signed)
}

// QueryTransactionStatus retrieves the current status of a transaction.
func (s *Service) QueryTransactionStatus(ctx context.Context, chainId string, txHash string, rpcEndpoint string) (*chainadapter.TransactionStatus, error) {
	adapter, err := s.GetAdapter(ctx, chainId, rpcEndpoint)
	if err != nil {
		return nil, err
	}

	return adapter.QueryStatus(ctx, txHash)
}

// resolveRPCEndpoint returns the Alchemy RPC endpoint for chainId when an
// API key is configured, falling back to a local node otherwise (dev /
// self-hosted RPC).
func (s *Service) resolveRPCEndpoint(chainId string) string {
	if s.alchemyAPIKey != "" {
		if endpoint, err := provider.AlchemyEndpoint(chainId, s.alchemyAPIKey); err == nil {
			return endpoint
		}
	}
	return "http://127.0.0.1:8545"
}

// ParseAmount parses a string amount to *big.Int.
// Supports base-unit notation (e.g. USDC's 6-decimal integer amount).
func ParseAmount(amount string) (*big.Int, error) {
	result := new(big.Int)
	_, ok := result.SetString(amount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", amount)
	}
	return result, nil
}
