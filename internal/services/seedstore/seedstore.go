// Package seedstore resolves the platform's HD seed (used to derive
// deposit addresses; the treasury signing key is read separately) from
// one of two pluggable backends, selected by config.SecretsDriver.
package seedstore

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/agentmarket/engine/internal/models"
	"github.com/agentmarket/engine/internal/services/crypto"
)

// SeedStore resolves the platform HD seed once at startup.
type SeedStore interface {
	LoadSeed() ([]byte, error)
}

// EnvSeedStore reads the seed directly from a hex-encoded environment
// variable. Intended for development and CI, never production.
type EnvSeedStore struct {
	EnvVar string
}

func NewEnvSeedStore(envVar string) *EnvSeedStore {
	return &EnvSeedStore{EnvVar: envVar}
}

func (s *EnvSeedStore) LoadSeed() ([]byte, error) {
	hexSeed := os.Getenv(s.EnvVar)
	if hexSeed == "" {
		return nil, fmt.Errorf("environment variable %s is not set", s.EnvVar)
	}
	seed, err := hex.DecodeString(hexSeed)
	if err != nil {
		return nil, fmt.Errorf("%s is not valid hex: %w", s.EnvVar, err)
	}
	return seed, nil
}

// EncryptedFileSeedStore reads an Argon2id+AES-256-GCM encrypted seed
// envelope from disk, decrypting it with a passphrase taken from a
// separate environment variable so the two secrets are never colocated.
type EncryptedFileSeedStore struct {
	Path          string
	PassphraseEnv string
}

func NewEncryptedFileSeedStore(path, passphraseEnv string) *EncryptedFileSeedStore {
	return &EncryptedFileSeedStore{Path: path, PassphraseEnv: passphraseEnv}
}

func (s *EncryptedFileSeedStore) LoadSeed() ([]byte, error) {
	passphrase := os.Getenv(s.PassphraseEnv)
	if passphrase == "" {
		return nil, fmt.Errorf("environment variable %s is not set", s.PassphraseEnv)
	}

	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read encrypted seed file %s: %w", s.Path, err)
	}

	enc, err := crypto.DeserializeEncryptedSeed(raw)
	if err != nil {
		return nil, fmt.Errorf("parse encrypted seed envelope: %w", err)
	}

	hexSeed, err := crypto.DecryptSeed(enc, passphrase)
	if err != nil {
		return nil, fmt.Errorf("decrypt seed: %w", err)
	}
	seed, err := hex.DecodeString(hexSeed)
	if err != nil {
		return nil, fmt.Errorf("decrypted seed is not valid hex: %w", err)
	}
	return seed, nil
}
