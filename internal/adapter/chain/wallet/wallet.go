// Package wallet loads the keeper's signing key from disk.
package wallet

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"

	"github.com/fairyhunter13/solcron-keeper/internal/domain"
)

const keypairLen = 64

// Load reads a keypair file in either of the two accepted forms: a raw
// 64-byte binary file, or a UTF-8 JSON array of 64 integers 0-255.
func Load(path string) (solana.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("op=wallet.load: %w: failed to read keypair: %w", domain.ErrConfig, err)
	}
	if len(raw) == keypairLen {
		key := make(solana.PrivateKey, keypairLen)
		copy(key, raw)
		return key, nil
	}

	var ints []int
	if err := json.Unmarshal(raw, &ints); err != nil {
		return nil, fmt.Errorf("op=wallet.load: %w: invalid keypair JSON: %w", domain.ErrConfig, err)
	}
	if len(ints) != keypairLen {
		return nil, fmt.Errorf("op=wallet.load: %w: invalid keypair length %d, want %d", domain.ErrConfig, len(ints), keypairLen)
	}
	key := make(solana.PrivateKey, keypairLen)
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("op=wallet.load: %w: keypair byte %d out of range: %d", domain.ErrConfig, i, v)
		}
		key[i] = byte(v)
	}
	return key, nil
}
