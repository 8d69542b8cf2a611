package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/oracleadapter/internal/crypto"
)

func TestScaledValue(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		decimals uint8
		want     string
		wantErr  bool
	}{
		{name: "whole", in: "1950", decimals: 2, want: "195000"},
		{name: "fraction", in: "1950.5", decimals: 8, want: "195050000000"},
		{name: "padded", in: " 0.01 ", decimals: 2, want: "1"},
		{name: "negative", in: "-3.25", decimals: 2, want: "-325"},
		{name: "too precise", in: "1.005", decimals: 2, wantErr: true},
		{name: "garbage", in: "abc", decimals: 2, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := scaledValue(tt.in, tt.decimals)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVersionSkipsConfig(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version", "--config", filepath.Join(t.TempDir(), "missing.toml")})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "oracleadapter version")
}

func TestEncryptKeyWritesLoadableFile(t *testing.T) {
	const key = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	t.Setenv("ORACLE_WALLET_PRIVATE_KEY", key)
	t.Setenv("ORACLE_WALLET_KEY_PASSWORD", "hunter2")
	path := filepath.Join(t.TempDir(), "wallet.json")

	rootCmd.SetArgs([]string{"encrypt-key", "--out", path})
	defer rootCmd.SetArgs(nil)
	require.NoError(t, rootCmd.Execute())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	signer, err := crypto.LoadSigner(crypto.KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"}, 1)
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", signer.Address().Hex())
}
