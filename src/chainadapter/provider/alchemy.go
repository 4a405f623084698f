// Package provider resolves RPC endpoint URLs for hosted node providers.
package provider

import "fmt"

// alchemyNetworks maps a platform chain id to its Alchemy base URL.
var alchemyNetworks = map[string]string{
	"ethereum":         "https://eth-mainnet.g.alchemy.com/v2",
	"ethereum-sepolia": "https://eth-sepolia.g.alchemy.com/v2",
	"base":             "https://base-mainnet.g.alchemy.com/v2",
	"base-sepolia":     "https://base-sepolia.g.alchemy.com/v2",
}

// AlchemyEndpoint builds the full Alchemy RPC URL for chainID using apiKey.
// Returns an error if the chain has no known Alchemy network.
func AlchemyEndpoint(chainID, apiKey string) (string, error) {
	if apiKey == "" {
		return "", fmt.Errorf("alchemy api key is required")
	}
	base, ok := alchemyNetworks[chainID]
	if !ok {
		return "", fmt.Errorf("unsupported alchemy network: %s", chainID)
	}
	return base + "/" + apiKey, nil
}
