package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
)

// GenerateAgentKeypair creates a new Ed25519 identity keypair for an agent.
func GenerateAgentKeypair() (pub ed25519.PublicKey, priv ed25519.PrivateKey, err error) {
	return ed25519.GenerateKey(nil)
}

// ParsePublicKeyHex decodes a hex-encoded Ed25519 public key, rejecting any
// length other than the fixed 32 bytes the scheme requires.
func ParsePublicKeyHex(hexKey string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid public key hex: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key length: got %d, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// VerifySignature checks an Ed25519 signature over message against pubKey.
// sigHex is lowercase hex per the signed-request envelope.
func VerifySignature(pubKey ed25519.PublicKey, message []byte, sigHex string) (bool, error) {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return false, fmt.Errorf("invalid signature length: got %d, want %d", len(sig), ed25519.SignatureSize)
	}
	return ed25519.Verify(pubKey, message, sig), nil
}

// Sign produces a lowercase-hex Ed25519 signature over message. Used by
// test fixtures and the demo client, not by the server itself (the server
// only ever verifies).
func Sign(privKey ed25519.PrivateKey, message []byte) string {
	sig := ed25519.Sign(privKey, message)
	return hex.EncodeToString(sig)
}
