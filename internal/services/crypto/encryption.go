package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/agentmarket/engine/internal/models"
	"golang.org/x/crypto/argon2"
)

const (
	// Argon2id parameters (OWASP-compliant)
	Argon2Time    = 4          // iterations
	Argon2Memory  = 256 * 1024 // 256 MiB in KiB
	Argon2Threads = 4          // threads
	Argon2KeyLen  = 32         // 256-bit key for AES-256
	Argon2SaltLen = 16         // 128-bit salt
	AESNonceLen   = 12         // 96-bit nonce for GCM
)

// EncryptSeed encrypts the platform HD seed (or treasury key hex) for the
// encrypted_file SeedStore driver, using Argon2id + AES-256-GCM.
func EncryptSeed(seed, passphrase string) (*models.EncryptedSeed, error) {
	salt := make([]byte, Argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(passphrase), salt, Argon2Time, Argon2Memory, Argon2Threads, Argon2KeyLen)
	defer ClearBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, AESNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	plaintext := []byte(seed)
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	ClearBytes(plaintext)

	return &models.EncryptedSeed{
		Salt:          salt,
		Nonce:         nonce,
		Ciphertext:    ciphertext, // Includes 16-byte authentication tag
		Argon2Time:    Argon2Time,
		Argon2Memory:  Argon2Memory,
		Argon2Threads: Argon2Threads,
		Version:       1,
	}, nil
}

// DecryptSeed decrypts an encrypted seed envelope using the operator's
// passphrase. The caller must ClearBytes the returned string's backing
// array (via ClearBytes([]byte(seed))) once it has derived what it needs.
func DecryptSeed(encrypted *models.EncryptedSeed, passphrase string) (string, error) {
	if encrypted == nil {
		return "", errors.New("encrypted data is nil")
	}
	if len(encrypted.Salt) != Argon2SaltLen {
		return "", fmt.Errorf("invalid salt length: got %d, want %d", len(encrypted.Salt), Argon2SaltLen)
	}
	if len(encrypted.Nonce) != AESNonceLen {
		return "", fmt.Errorf("invalid nonce length: got %d, want %d", len(encrypted.Nonce), AESNonceLen)
	}

	key := argon2.IDKey(
		[]byte(passphrase),
		encrypted.Salt,
		encrypted.Argon2Time,
		encrypted.Argon2Memory,
		encrypted.Argon2Threads,
		Argon2KeyLen,
	)
	defer ClearBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, encrypted.Nonce, encrypted.Ciphertext, nil)
	if err != nil {
		return "", errors.New("authentication failed: wrong passphrase or corrupted data")
	}
	defer ClearBytes(plaintext)

	return string(plaintext), nil
}

// SerializeEncryptedSeed serializes EncryptedSeed to binary format.
// Format: [version:1][time:4][memory:4][threads:1][salt:16][nonce:12][ciphertext:variable]
func SerializeEncryptedSeed(encrypted *models.EncryptedSeed) []byte {
	size := 1 + 4 + 4 + 1 + len(encrypted.Salt) + len(encrypted.Nonce) + len(encrypted.Ciphertext)
	result := make([]byte, size)

	offset := 0
	result[offset] = encrypted.Version
	offset++

	binary.BigEndian.PutUint32(result[offset:], encrypted.Argon2Time)
	offset += 4

	binary.BigEndian.PutUint32(result[offset:], encrypted.Argon2Memory)
	offset += 4

	result[offset] = encrypted.Argon2Threads
	offset++

	copy(result[offset:], encrypted.Salt)
	offset += len(encrypted.Salt)

	copy(result[offset:], encrypted.Nonce)
	offset += len(encrypted.Nonce)

	copy(result[offset:], encrypted.Ciphertext)

	return result
}

// DeserializeEncryptedSeed deserializes binary data to an EncryptedSeed.
func DeserializeEncryptedSeed(data []byte) (*models.EncryptedSeed, error) {
	minSize := 1 + 4 + 4 + 1 + Argon2SaltLen + AESNonceLen
	if len(data) < minSize {
		return nil, fmt.Errorf("invalid encrypted data: size %d < minimum %d", len(data), minSize)
	}

	offset := 0
	version := data[offset]
	offset++

	argon2Time := binary.BigEndian.Uint32(data[offset:])
	offset += 4

	argon2Memory := binary.BigEndian.Uint32(data[offset:])
	offset += 4

	argon2Threads := data[offset]
	offset++

	salt := make([]byte, Argon2SaltLen)
	copy(salt, data[offset:offset+Argon2SaltLen])
	offset += Argon2SaltLen

	nonce := make([]byte, AESNonceLen)
	copy(nonce, data[offset:offset+AESNonceLen])
	offset += AESNonceLen

	ciphertext := make([]byte, len(data)-offset)
	copy(ciphertext, data[offset:])

	return &models.EncryptedSeed{
		Salt:          salt,
		Nonce:         nonce,
		Ciphertext:    ciphertext,
		Argon2Time:    argon2Time,
		Argon2Memory:  argon2Memory,
		Argon2Threads: argon2Threads,
		Version:       version,
	}, nil
}

// Encrypt encrypts arbitrary data using Argon2id + AES-256-GCM, returning
// serialized bytes compatible with Decrypt.
func Encrypt(data []byte, passphrase string) ([]byte, error) {
	encrypted, err := EncryptSeed(string(data), passphrase)
	if err != nil {
		return nil, err
	}
	return SerializeEncryptedSeed(encrypted), nil
}

// Decrypt decrypts data encrypted with Encrypt.
func Decrypt(encryptedData []byte, passphrase string) ([]byte, error) {
	encrypted, err := DeserializeEncryptedSeed(encryptedData)
	if err != nil {
		return nil, err
	}

	decrypted, err := DecryptSeed(encrypted, passphrase)
	if err != nil {
		return nil, err
	}

	return []byte(decrypted), nil
}
