package wallet_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/solcron-keeper/internal/adapter/chain/wallet"
	"github.com/fairyhunter13/solcron-keeper/internal/domain"
)

func writeKeypair(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keeper-keypair.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestLoad_RawBinary(t *testing.T) {
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	loaded, err := wallet.Load(writeKeypair(t, []byte(key)))
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey(), loaded.PublicKey())
}

func TestLoad_JSONArray(t *testing.T) {
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	ints := make([]int, len(key))
	for i, b := range []byte(key) {
		ints[i] = int(b)
	}
	raw, err := json.Marshal(ints)
	require.NoError(t, err)

	loaded, err := wallet.Load(writeKeypair(t, raw))
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey(), loaded.PublicKey())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "not json", data: []byte("definitely not a keypair")},
		{name: "wrong length", data: []byte("[1,2,3]")},
		{name: "byte out of range", data: jsonArray(t, 64, 999)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := wallet.Load(writeKeypair(t, tc.data))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrConfig)
		})
	}

	_, err := wallet.Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func jsonArray(t *testing.T, n, value int) []byte {
	t.Helper()
	ints := make([]int, n)
	for i := range ints {
		ints[i] = value
	}
	raw, err := json.Marshal(ints)
	require.NoError(t, err)
	return raw
}
