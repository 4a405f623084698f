package address

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/mr-tron/base58"
)

// DeriveSolanaAddress derives a display-only Solana-shaped address: Solana
// natively uses Ed25519 keypairs, but this linker only ever shows a
// counterfactual address from the platform's secp256k1 HD tree, so the
// compressed public key's x-coordinate bytes are base58-encoded the same
// way a real Ed25519 public key would be. Never used to sign or broadcast.
func (s *AddressService) DeriveSolanaAddress(key *hdkeychain.ExtendedKey) (string, error) {
	pubKey, err := key.ECPubKey()
	if err != nil {
		return "", fmt.Errorf("failed to get public key: %w", err)
	}

	pubKeyBytes := pubKey.SerializeCompressed()
	if len(pubKeyBytes) < 33 {
		return "", fmt.Errorf("public key too short: %d bytes", len(pubKeyBytes))
	}

	return base58.Encode(pubKeyBytes[1:33]), nil
}
