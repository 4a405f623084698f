package address

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"golang.org/x/crypto/ripemd160"
)

// deriveCosmosAddressWithPrefix derives a Cosmos SDK address for any chain
// that follows the standard secp256k1 -> SHA256 -> RIPEMD160 -> Bech32
// scheme, parameterized by the chain's human-readable prefix. One function
// backs Cosmos Hub, Osmosis, Juno, Evmos and Secret Network below.
func (s *AddressService) deriveCosmosAddressWithPrefix(key *hdkeychain.ExtendedKey, prefix string) (string, error) {
	pubKey, err := key.ECPubKey()
	if err != nil {
		return "", fmt.Errorf("failed to get public key: %w", err)
	}

	pubKeyBytes := pubKey.SerializeCompressed()

	sha := sha256.Sum256(pubKeyBytes)
	ripemd := ripemd160.New()
	ripemd.Write(sha[:])
	hash160 := ripemd.Sum(nil)

	return bech32Encode(prefix, hash160)
}

// DeriveCosmosAddress derives a Cosmos Hub (ATOM) Bech32 address.
// Address format: cosmos1... (45 characters)
func (s *AddressService) DeriveCosmosAddress(key *hdkeychain.ExtendedKey) (string, error) {
	return s.deriveCosmosAddressWithPrefix(key, "cosmos")
}

// DeriveOsmosisAddress derives an Osmosis (OSMO) Bech32 address.
// Address format: osmo1... (43 characters)
func (s *AddressService) DeriveOsmosisAddress(key *hdkeychain.ExtendedKey) (string, error) {
	return s.deriveCosmosAddressWithPrefix(key, "osmo")
}

// DeriveJunoAddress derives a Juno (JUNO) Bech32 address.
// Address format: juno1... (43 characters)
func (s *AddressService) DeriveJunoAddress(key *hdkeychain.ExtendedKey) (string, error) {
	return s.deriveCosmosAddressWithPrefix(key, "juno")
}

// DeriveEvmosAddress derives an Evmos (EVMOS) Bech32 address.
// Evmos is a Cosmos SDK chain with EVM compatibility; this returns the
// Cosmos-format address, not the Ethereum 0x representation.
// Address format: evmos1... (44 characters)
func (s *AddressService) DeriveEvmosAddress(key *hdkeychain.ExtendedKey) (string, error) {
	return s.deriveCosmosAddressWithPrefix(key, "evmos")
}

// DeriveSecretAddress derives a Secret Network (SCRT) Bech32 address.
// Address format: secret1... (45 characters)
func (s *AddressService) DeriveSecretAddress(key *hdkeychain.ExtendedKey) (string, error) {
	return s.deriveCosmosAddressWithPrefix(key, "secret")
}
