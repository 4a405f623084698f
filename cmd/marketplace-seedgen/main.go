// Command marketplace-seedgen is an operator tool that provisions the
// platform's single custodial HD seed: it generates a fresh BIP39
// mnemonic, derives the binary seed, and writes an Argon2id+AES-256-GCM
// encrypted envelope to disk for EncryptedFileSeedStore to load at
// startup. The mnemonic is printed once for cold-storage backup and never
// written to disk.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/agentmarket/engine/internal/services/bip39service"
	"github.com/agentmarket/engine/internal/services/crypto"
	"github.com/agentmarket/engine/internal/utils"
)

func main() {
	out := flag.String("out", "/etc/marketplace/seed.enc", "path to write the encrypted seed envelope")
	words := flag.Int("words", 24, "mnemonic length: 12 or 24")
	flag.Parse()

	bip39 := bip39service.NewBIP39Service()
	mnemonic, err := bip39.GenerateMnemonic(*words)
	if err != nil {
		fmt.Fprintln(os.Stderr, "generate mnemonic:", err)
		os.Exit(1)
	}
	seed, err := bip39.MnemonicToSeed(mnemonic, "")
	if err != nil {
		fmt.Fprintln(os.Stderr, "derive seed:", err)
		os.Exit(1)
	}

	passphrase, err := readPassphrase()
	if err != nil {
		fmt.Fprintln(os.Stderr, "read passphrase:", err)
		os.Exit(1)
	}
	if err := utils.ValidatePassword(passphrase); err != nil {
		fmt.Fprintln(os.Stderr, "weak passphrase:", err)
		os.Exit(1)
	}

	encrypted, err := crypto.EncryptSeed(fmt.Sprintf("%x", seed), passphrase)
	if err != nil {
		fmt.Fprintln(os.Stderr, "encrypt seed:", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(dirOf(*out), 0o700); err != nil {
		fmt.Fprintln(os.Stderr, "create output directory:", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, crypto.SerializeEncryptedSeed(encrypted), 0o600); err != nil {
		fmt.Fprintln(os.Stderr, "write encrypted seed:", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("Platform HD seed provisioned.")
	fmt.Printf("Encrypted envelope written to: %s\n", *out)
	fmt.Println()
	fmt.Println("Recovery mnemonic (write this down, it is never stored):")
	fmt.Println()
	fmt.Printf("  %s\n", mnemonic)
	fmt.Println()
	fmt.Println("Set MARKETPLACE_SECRETS_DRIVER=encrypted_file and the passphrase")
	fmt.Println("environment variable before starting marketplaced.")
}

func readPassphrase() (string, error) {
	fmt.Print("Set encryption passphrase: ")
	first, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return promptLine()
	}
	fmt.Println()
	fmt.Print("Confirm passphrase: ")
	second, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	fmt.Println()
	if string(first) != string(second) {
		return "", fmt.Errorf("passphrases do not match")
	}
	return string(first), nil
}

// promptLine falls back to a plain stdin read when the terminal doesn't
// support raw mode (e.g. piped input in CI).
func promptLine() (string, error) {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func dirOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return "."
	}
	return path[:idx]
}
