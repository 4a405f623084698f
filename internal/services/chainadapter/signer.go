// Package chainadapter - Simple signer implementation for the treasury wallet.
package chainadapter

import (
	"fmt"

	"github.com/arcsign/chainadapter"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// TreasurySigner implements chainadapter.Signer over the platform's
// treasury private key, read once at startup from the environment variable
// named by config.TreasuryPrivateKeyEnv and held only in memory for the
// life of the process.
//
// Design Note:
// - Address derivation is NOT done here - the destination/source address is
//   provided by the wallet service, already derived from the HD tree.
// - This signer only verifies the requested address matches and signs
//   payloads; it never derives addresses itself.
type TreasurySigner struct {
	privateKey []byte
	address    string
}

// NewTreasurySigner creates a signer from a hex-encoded treasury private key
// and the address it controls.
func NewTreasurySigner(privateKeyHex string, address string) (*TreasurySigner, error) {
	if len(privateKeyHex) >= 2 && privateKeyHex[:2] == "0x" {
		privateKeyHex = privateKeyHex[2:]
	}

	privateKeyBytes, err := hexToBytes(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}

	if len(privateKeyBytes) != 32 {
		return nil, fmt.Errorf("invalid private key length: expected 32 bytes, got %d", len(privateKeyBytes))
	}

	return &TreasurySigner{
		privateKey: privateKeyBytes,
		address:    address,
	}, nil
}

// Sign signs the given payload with the treasury's secp256k1 key.
//
// Contract:
// - MUST verify that the signing address matches the requested address
// - MUST return raw signature bytes (chain-specific format)
// - MUST NOT leak private key material
func (s *TreasurySigner) Sign(payload []byte, address string) ([]byte, error) {
	if s.address != address {
		return nil, fmt.Errorf("address mismatch: signer controls %s, requested %s", s.address, address)
	}

	privKey, err := ethcrypto.ToECDSA(s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid treasury key: %w", err)
	}
	signature, err := ethcrypto.Sign(payload, privKey)
	if err != nil {
		return nil, fmt.Errorf("treasury signing failed: %w", err)
	}
	return signature, nil
}

// GetAddress returns the address controlled by this signer.
func (s *TreasurySigner) GetAddress() string {
	return s.address
}

// Zeroize clears the private key from memory.
func (s *TreasurySigner) Zeroize() {
	for i := range s.privateKey {
		s.privateKey[i] = 0
	}
	s.privateKey = nil
}

func hexToBytes(hexStr string) ([]byte, error) {
	if len(hexStr)%2 != 0 {
		return nil, fmt.Errorf("hex string has odd length")
	}

	bytes := make([]byte, len(hexStr)/2)
	for i := 0; i < len(hexStr); i += 2 {
		high := hexCharToByte(hexStr[i])
		low := hexCharToByte(hexStr[i+1])

		if high == 255 || low == 255 {
			return nil, fmt.Errorf("invalid hex character at position %d", i)
		}

		bytes[i/2] = (high << 4) | low
	}

	return bytes, nil
}

func hexCharToByte(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	default:
		return 255
	}
}

// Ensure TreasurySigner implements chainadapter.Signer
var _ chainadapter.Signer = (*TreasurySigner)(nil)
