package coinregistry

import (
	"errors"
	"sort"
	"strings"

	"github.com/agentmarket/engine/internal/models"
)

// Registry manages the collection of supported cryptocurrency coins
type Registry struct {
	coins       []CoinMetadata
	symbolIndex map[string]int // Map symbol to index in coins slice
}

// NewRegistry creates and initializes a new coin registry, populated with
// the coins the marketplace's multi-chain address linker can actually
// derive a display address for: each entry's FormatterID must name a
// formatter implemented in the address package.
func NewRegistry() *Registry {
	r := &Registry{
		coins:       make([]CoinMetadata, 0),
		symbolIndex: make(map[string]int),
	}

	// Mainstream coins, sorted by market cap.

	r.addCoin(CoinMetadata{
		Symbol:        "BTC",
		Name:          "Bitcoin",
		CoinType:      0,
		FormatterID:   "bitcoin",
		MarketCapRank: 1,
		KeyType:       KeyTypeSecp256k1,
		Category:      models.ChainCategoryUTXO,
	})

	r.addCoin(CoinMetadata{
		Symbol:        "ETH",
		Name:          "Ethereum",
		CoinType:      60,
		FormatterID:   "ethereum",
		MarketCapRank: 2,
	})

	r.addCoin(CoinMetadata{
		Symbol:        "USDT",
		Name:          "Tether",
		CoinType:      60,
		FormatterID:   "ethereum",
		MarketCapRank: 3,
	})

	r.addCoin(CoinMetadata{
		Symbol:        "BNB",
		Name:          "BNB",
		CoinType:      714,
		FormatterID:   "ethereum",
		MarketCapRank: 4,
	})

	r.addCoin(CoinMetadata{
		Symbol:        "SOL",
		Name:          "Solana",
		CoinType:      501,
		FormatterID:   "solana",
		MarketCapRank: 5,
	})

	r.addCoin(CoinMetadata{
		Symbol:        "USDC",
		Name:          "USD Coin",
		CoinType:      60,
		FormatterID:   "ethereum",
		MarketCapRank: 6,
	})

	r.addCoin(CoinMetadata{
		Symbol:        "XRP",
		Name:          "XRP",
		CoinType:      144,
		FormatterID:   "ripple",
		MarketCapRank: 7,
	})

	r.addCoin(CoinMetadata{
		Symbol:        "TRX",
		Name:          "TRON",
		CoinType:      195,
		FormatterID:   "tron",
		MarketCapRank: 8,
	})

	r.addCoin(CoinMetadata{
		Symbol:        "AVAX",
		Name:          "Avalanche",
		CoinType:      9000,
		FormatterID:   "ethereum",
		MarketCapRank: 9,
	})

	r.addCoin(CoinMetadata{
		Symbol:        "SHIB",
		Name:          "Shiba Inu",
		CoinType:      60,
		FormatterID:   "ethereum",
		MarketCapRank: 10,
	})

	r.addCoin(CoinMetadata{
		Symbol:        "LINK",
		Name:          "Chainlink",
		CoinType:      60,
		FormatterID:   "ethereum",
		MarketCapRank: 11,
	})

	r.addCoin(CoinMetadata{
		Symbol:        "MATIC",
		Name:          "Polygon",
		CoinType:      966,
		FormatterID:   "ethereum",
		MarketCapRank: 12,
	})

	r.addCoin(CoinMetadata{
		Symbol:        "LTC",
		Name:          "Litecoin",
		CoinType:      2,
		FormatterID:   "litecoin",
		MarketCapRank: 13,
	})

	r.addCoin(CoinMetadata{
		Symbol:        "XLM",
		Name:          "Stellar",
		CoinType:      148,
		FormatterID:   "stellar",
		MarketCapRank: 14,
	})

	r.addCoin(CoinMetadata{
		Symbol:        "UNI",
		Name:          "Uniswap",
		CoinType:      60,
		FormatterID:   "ethereum",
		MarketCapRank: 15,
	})

	r.addCoin(CoinMetadata{
		Symbol:        "ATOM",
		Name:          "Cosmos",
		CoinType:      118,
		FormatterID:   "cosmos",
		MarketCapRank: 16,
	})

	r.addCoin(CoinMetadata{
		Symbol:        "ETC",
		Name:          "Ethereum Classic",
		CoinType:      61,
		FormatterID:   "ethereum",
		MarketCapRank: 17,
	})

	r.addCoin(CoinMetadata{
		Symbol:        "VET",
		Name:          "VeChain",
		CoinType:      818,
		FormatterID:   "ethereum",
		MarketCapRank: 18,
	})

	// Layer 2 networks: all EVM-compatible, so they reuse the ethereum
	// formatter and differ only by coin type / display category.

	r.addCoin(CoinMetadata{
		Symbol:        "ARB",
		Name:          "Arbitrum",
		CoinType:      9001,
		FormatterID:   "ethereum",
		MarketCapRank: 19,
		KeyType:       KeyTypeSecp256k1,
		Category:      models.ChainCategoryLayer2,
	})

	r.addCoin(CoinMetadata{
		Symbol:        "OP",
		Name:          "Optimism",
		CoinType:      614,
		FormatterID:   "ethereum",
		MarketCapRank: 20,
		KeyType:       KeyTypeSecp256k1,
		Category:      models.ChainCategoryLayer2,
	})

	r.addCoin(CoinMetadata{
		Symbol:        "BASE",
		Name:          "Base",
		CoinType:      8453,
		FormatterID:   "ethereum",
		MarketCapRank: 21,
		KeyType:       KeyTypeSecp256k1,
		Category:      models.ChainCategoryLayer2,
	})

	r.addCoin(CoinMetadata{
		Symbol:        "ZKS",
		Name:          "zkSync",
		CoinType:      324,
		FormatterID:   "ethereum",
		MarketCapRank: 22,
		KeyType:       KeyTypeSecp256k1,
		Category:      models.ChainCategoryLayer2,
	})

	r.addCoin(CoinMetadata{
		Symbol:        "LINEA",
		Name:          "Linea",
		CoinType:      59144,
		FormatterID:   "ethereum",
		MarketCapRank: 23,
		KeyType:       KeyTypeSecp256k1,
		Category:      models.ChainCategoryLayer2,
	})

	// Regional EVM-compatible chains.

	r.addCoin(CoinMetadata{
		Symbol:        "KLAY",
		Name:          "Klaytn",
		CoinType:      8217,
		FormatterID:   "ethereum",
		MarketCapRank: 24,
		KeyType:       KeyTypeSecp256k1,
		Category:      models.ChainCategoryCustom, // Regional Asia
	})

	r.addCoin(CoinMetadata{
		Symbol:        "CRO",
		Name:          "Cronos",
		CoinType:      394,
		FormatterID:   "ethereum",
		MarketCapRank: 25,
		KeyType:       KeyTypeSecp256k1,
		Category:      models.ChainCategoryCustom,
	})

	r.addCoin(CoinMetadata{
		Symbol:        "HT",
		Name:          "HECO",
		CoinType:      1010,
		FormatterID:   "ethereum",
		MarketCapRank: 26,
		KeyType:       KeyTypeSecp256k1,
		Category:      models.ChainCategoryCustom,
	})

	// Cosmos ecosystem: all derive through deriveCosmosAddressWithPrefix,
	// differing only by their Bech32 human-readable prefix.

	r.addCoin(CoinMetadata{
		Symbol:        "OSMO",
		Name:          "Osmosis",
		CoinType:      118, // shared Cosmos coin type
		FormatterID:   "osmosis",
		MarketCapRank: 27,
		KeyType:       KeyTypeSecp256k1,
		Category:      models.ChainCategoryCosmos,
	})

	r.addCoin(CoinMetadata{
		Symbol:        "JUNO",
		Name:          "Juno",
		CoinType:      118,
		FormatterID:   "juno",
		MarketCapRank: 28,
		KeyType:       KeyTypeSecp256k1,
		Category:      models.ChainCategoryCosmos,
	})

	r.addCoin(CoinMetadata{
		Symbol:        "EVMOS",
		Name:          "Evmos",
		CoinType:      60, // EVM-compatible, uses Ethereum's coin type
		FormatterID:   "evmos",
		MarketCapRank: 29,
		KeyType:       KeyTypeSecp256k1,
		Category:      models.ChainCategoryCosmos,
	})

	r.addCoin(CoinMetadata{
		Symbol:        "SCRT",
		Name:          "Secret Network",
		CoinType:      529,
		FormatterID:   "secret",
		MarketCapRank: 30,
		KeyType:       KeyTypeSecp256k1,
		Category:      models.ChainCategoryCosmos,
	})

	return r
}

// addCoin adds a coin to the registry
func (r *Registry) addCoin(coin CoinMetadata) {
	r.coins = append(r.coins, coin)
	r.symbolIndex[coin.Symbol] = len(r.coins) - 1
}

// GetCoinBySymbol retrieves coin metadata by symbol (case-insensitive)
func (r *Registry) GetCoinBySymbol(symbol string) (*CoinMetadata, error) {
	// Normalize to uppercase for case-insensitive lookup
	symbol = strings.ToUpper(symbol)

	index, exists := r.symbolIndex[symbol]
	if !exists {
		return nil, errors.New("coin not found: " + symbol)
	}

	// Return pointer to element in slice (avoids unnecessary copy)
	return &r.coins[index], nil
}

// GetAllCoinsSortedByMarketCap returns all coins sorted by market capitalization rank
// (rank 1 = highest market cap, comes first)
func (r *Registry) GetAllCoinsSortedByMarketCap() []CoinMetadata {
	// Create a copy to avoid modifying the original slice
	sorted := make([]CoinMetadata, len(r.coins))
	copy(sorted, r.coins)

	// Sort by market cap rank (ascending - rank 1 first)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].MarketCapRank < sorted[j].MarketCapRank
	})

	return sorted
}
