package solana

import (
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// ValidateAddress checks that s is a base58-encoded 32-byte key.
func ValidateAddress(s string) error {
	raw, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("decode address: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("address must decode to 32 bytes, got %d", len(raw))
	}
	return nil
}

// IsOnCurve reports whether the address is a valid ed25519 point.
// Wallet keypairs are on-curve; program derived addresses and most token
// accounts are not. Returns false for malformed input.
func IsOnCurve(s string) bool {
	raw, err := base58.Decode(s)
	if err != nil || len(raw) != 32 {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(raw)
	return err == nil
}
