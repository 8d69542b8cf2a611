package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/oracleadapter/internal/crypto"
)

var (
	encryptOut      string
	encryptPassword string
)

var encryptKeyCmd = &cobra.Command{
	Use:   "encrypt-key",
	Short: "Seal a private key into an encrypted key file",
	Long: `Encrypt the key in ORACLE_WALLET_PRIVATE_KEY with a password and write
the key file referenced by wallet.encrypted_key_path. The password comes from
--password or ORACLE_WALLET_KEY_PASSWORD.`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{noConfig: "true"},
	RunE: func(cmd *cobra.Command, _ []string) error {
		_ = godotenv.Load()
		key := os.Getenv("ORACLE_WALLET_PRIVATE_KEY")
		if key == "" {
			return errors.New("encrypt-key: ORACLE_WALLET_PRIVATE_KEY is not set")
		}
		password := encryptPassword
		if password == "" {
			password = os.Getenv("ORACLE_WALLET_KEY_PASSWORD")
		}
		if password == "" {
			return errors.New("encrypt-key: a password is required")
		}

		signer, err := crypto.NewSigner(key, 1)
		if err != nil {
			return fmt.Errorf("encrypt-key: %w", err)
		}
		data, err := crypto.EncryptKey(key, password)
		if err != nil {
			return fmt.Errorf("encrypt-key: %w", err)
		}
		if err := os.WriteFile(encryptOut, data, 0o600); err != nil {
			return fmt.Errorf("encrypt-key: write %s: %w", encryptOut, err)
		}
		logger.Info("key file written",
			slog.String("path", encryptOut),
			slog.String("address", signer.Address().Hex()),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(encryptKeyCmd)
	encryptKeyCmd.Flags().StringVarP(&encryptOut, "out", "o", "wallet.key.json", "output key file")
	encryptKeyCmd.Flags().StringVar(&encryptPassword, "password", "", "encryption password")
}
