package address

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// litecoinMainNetParams are Litecoin's P2PKH/P2SH/private-key version bytes.
// Litecoin uses the same address algorithm as Bitcoin, only the version
// bytes differ, so it shares deriveP2PKHAddress below instead of its own
// derivation function.
var litecoinMainNetParams = chaincfg.Params{
	Name:             "litecoin_mainnet",
	PubKeyHashAddrID: 0x30, // addresses start with 'L'
	ScriptHashAddrID: 0x32,
	PrivateKeyID:     0xB0,
}

// deriveP2PKHAddress derives a base58-encoded P2PKH address under the given
// network parameters.
func (s *AddressService) deriveP2PKHAddress(key *hdkeychain.ExtendedKey, params *chaincfg.Params) (string, error) {
	pubKey, err := key.ECPubKey()
	if err != nil {
		return "", fmt.Errorf("failed to get public key: %w", err)
	}

	address, err := btcutil.NewAddressPubKey(pubKey.SerializeCompressed(), params)
	if err != nil {
		return "", fmt.Errorf("failed to create address: %w", err)
	}

	return address.EncodeAddress(), nil
}

// DeriveLitecoinAddress derives a Litecoin P2PKH address.
func (s *AddressService) DeriveLitecoinAddress(key *hdkeychain.ExtendedKey) (string, error) {
	return s.deriveP2PKHAddress(key, &litecoinMainNetParams)
}
