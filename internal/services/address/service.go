package address

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/agentmarket/engine/internal/models"
	"github.com/agentmarket/engine/internal/services/coinregistry"
	"go.uber.org/zap"
	"golang.org/x/crypto/ripemd160"
)

// AddressService derives counterfactual, display-only addresses across the
// coin registry for the multi-chain address linker. It never signs or
// broadcasts; the only chain with a real, watched deposit address is the
// configured EVM settlement chain, handled separately by the wallet service.
type AddressService struct {
	btcParams *chaincfg.Params
	log       *zap.Logger
}

// NewAddressService creates a new address service.
func NewAddressService(log *zap.Logger) *AddressService {
	return &AddressService{
		btcParams: &chaincfg.MainNetParams,
		log:       log,
	}
}

// DeriveBitcoinAddress derives a Bitcoin P2PKH address from an extended key
// Returns a base58-encoded Bitcoin address (e.g., 1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa)
func (s *AddressService) DeriveBitcoinAddress(key *hdkeychain.ExtendedKey) (string, error) {
	// Get public key
	pubKey, err := key.ECPubKey()
	if err != nil {
		return "", fmt.Errorf("failed to get public key: %w", err)
	}

	// Create Bitcoin address (P2PKH - Pay to Public Key Hash)
	address, err := btcutil.NewAddressPubKey(pubKey.SerializeCompressed(), s.btcParams)
	if err != nil {
		return "", fmt.Errorf("failed to create Bitcoin address: %w", err)
	}

	// Return the P2PKH address string
	return address.EncodeAddress(), nil
}

// DeriveEthereumAddress derives an Ethereum address from an extended key
// Returns a hex-encoded Ethereum address (e.g., 0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb)
func (s *AddressService) DeriveEthereumAddress(key *hdkeychain.ExtendedKey) (string, error) {
	// Get public key
	pubKey, err := key.ECPubKey()
	if err != nil {
		return "", fmt.Errorf("failed to get public key: %w", err)
	}

	// Convert to uncompressed format (65 bytes: 0x04 + X + Y)
	uncompressed := pubKey.SerializeUncompressed()

	// Ethereum address = last 20 bytes of Keccak256(uncompressed public key without 0x04 prefix)
	// Skip the first byte (0x04) and hash the remaining 64 bytes
	hash := crypto.Keccak256(uncompressed[1:])

	// Take last 20 bytes and add 0x prefix
	address := fmt.Sprintf("0x%x", hash[len(hash)-20:])

	return address, nil
}

// GetPublicKeyHash returns the RIPEMD160(SHA256(pubkey)) hash
// Used for Bitcoin address derivation
func (s *AddressService) GetPublicKeyHash(publicKey []byte) []byte {
	// SHA256
	sha := sha256.Sum256(publicKey)

	// RIPEMD160
	ripemd := ripemd160.New()
	ripemd.Write(sha[:])
	return ripemd.Sum(nil)
}

// FormatAddressWithLabel returns a formatted address string with label
func (s *AddressService) FormatAddressWithLabel(coinType string, address string, path string) string {
	return fmt.Sprintf("[%s] %s\n  Derivation Path: %s", coinType, address, path)
}

// retryOnce executes a function once, and retries one more time if it fails (v0.3.0+)
// Returns: result, attempts (1 or 2), error
func retryOnce(fn func() (string, error)) (string, int, error) {
	// First attempt
	result, err := fn()
	if err == nil {
		return result, 1, nil
	}

	// Retry once
	result, retryErr := fn()
	if retryErr == nil {
		return result, 2, nil
	}

	// Both attempts failed, return the retry error
	return "", 2, retryErr
}

// GenerateMultiCoinAddresses derives one counterfactual address per coin in
// the registry from masterKey, failing individual chains gracefully (a
// derivation failure on one chain never aborts the rest) and retrying each
// chain once before giving up on it.
func (s *AddressService) GenerateMultiCoinAddresses(masterKey *hdkeychain.ExtendedKey, registry *coinregistry.Registry) (*models.AddressBook, *models.GenerationMetrics, error) {
	startTime := time.Now()
	coins := registry.GetAllCoinsSortedByMarketCap()
	addresses := make([]models.DerivedAddress, 0, len(coins))

	// Initialize metrics
	metrics := &models.GenerationMetrics{
		TotalChains:     len(coins),
		SuccessCount:    0,
		FailureCount:    0,
		RetryCount:      0,
		PerChainMetrics: make(map[string]models.ChainMetric),
	}

	// Generate address for each coin
	for _, coin := range coins {
		chainStart := time.Now()

		// Wrap address generation in retry-once logic
		address, attempts, err := retryOnce(func() (string, error) {
			// Derive BIP44 path: m/44'/coin_type'/0'/0/0
			purpose, err := masterKey.Derive(hdkeychain.HardenedKeyStart + 44)
			if err != nil {
				return "", fmt.Errorf("failed to derive purpose: %w", err)
			}

			coinTypeKey, err := purpose.Derive(hdkeychain.HardenedKeyStart + coin.CoinType)
			if err != nil {
				return "", fmt.Errorf("failed to derive coin type: %w", err)
			}

			accountKey, err := coinTypeKey.Derive(hdkeychain.HardenedKeyStart + 0)
			if err != nil {
				return "", fmt.Errorf("failed to derive account: %w", err)
			}

			externalKey, err := accountKey.Derive(0)
			if err != nil {
				return "", fmt.Errorf("failed to derive external chain: %w", err)
			}

			addressKey, err := externalKey.Derive(0)
			if err != nil {
				return "", fmt.Errorf("failed to derive address key: %w", err)
			}

			return s.deriveAddressByFormatter(addressKey, coin.FormatterID)
		})

		chainDuration := time.Since(chainStart)

		// Track metrics for this chain
		chainMetric := models.ChainMetric{
			Symbol:   coin.Symbol,
			Duration: chainDuration,
			Attempts: attempts,
		}

		if err != nil {
			// Generation failed
			s.log.Warn("linked address derivation failed",
				zap.String("symbol", coin.Symbol), zap.Int("attempts", attempts), zap.Error(err))
			chainMetric.Success = false
			chainMetric.ErrorMessage = err.Error()
			metrics.FailureCount++
			if attempts > 1 {
				metrics.RetryCount++
			}
		} else {
			// Generation succeeded
			chainMetric.Success = true
			metrics.SuccessCount++
			if attempts > 1 {
				metrics.RetryCount++
			}

			// Create DerivedAddress with Category field (v0.3.0+)
			derivedAddr := models.DerivedAddress{
				Symbol:         coin.Symbol,
				CoinName:       coin.Name,
				CoinType:       coin.CoinType,
				Address:        address,
				DerivationPath: fmt.Sprintf("m/44'/%d'/0'/0/0", coin.CoinType),
				MarketCapRank:  coin.MarketCapRank,
				Category:       coin.Category,
				WatchEnabled:   false,
			}

			addresses = append(addresses, derivedAddr)
		}

		metrics.PerChainMetrics[coin.Symbol] = chainMetric
	}

	metrics.TotalDuration = time.Since(startTime)

	s.log.Info("linked address derivation complete",
		zap.Int("success", metrics.SuccessCount), zap.Int("failed", metrics.FailureCount),
		zap.Int("retries", metrics.RetryCount), zap.Float64("successRatePct", metrics.SuccessRate()),
		zap.Duration("totalDuration", metrics.TotalDuration))

	return &models.AddressBook{
		Addresses: addresses,
	}, metrics, nil
}

// deriveAddressByFormatter calls the appropriate formatter method based on FormatterID
func (s *AddressService) deriveAddressByFormatter(key *hdkeychain.ExtendedKey, formatterID string) (string, error) {
	switch formatterID {
	case "bitcoin":
		return s.DeriveBitcoinAddress(key)
	case "ethereum":
		return s.DeriveEthereumAddress(key)
	case "litecoin":
		return s.DeriveLitecoinAddress(key)
	case "ripple":
		return s.DeriveRippleAddress(key)
	case "stellar":
		return s.DeriveStellarAddress(key)
	case "tron":
		return s.DeriveTronAddress(key)
	case "solana":
		return s.DeriveSolanaAddress(key)
	case "cosmos":
		return s.DeriveCosmosAddress(key)
	case "osmosis":
		return s.DeriveOsmosisAddress(key)
	case "juno":
		return s.DeriveJunoAddress(key)
	case "evmos":
		return s.DeriveEvmosAddress(key)
	case "secret":
		return s.DeriveSecretAddress(key)
	default:
		return "", fmt.Errorf("unsupported formatter: %s", formatterID)
	}
}
