package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"mariadb-backup/internal/backup"
	apperrors "mariadb-backup/internal/errors"
)

func newEncryptCommand() *cobra.Command {
	var (
		encrypt bool
		decrypt bool
	)

	cmd := &cobra.Command{
		Use:   "encrypt {--encrypt|--decrypt} FILE",
		Short: "Encrypt or decrypt a file with the backup key",
		Long: `Standalone access to the artifact encryption. --encrypt produces
FILE` + backup.EncryptedSuffix + ` and a checksum sidecar; --decrypt verifies the sidecar
first when one exists, then writes the plaintext next to the input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFlags(); err != nil {
				return err
			}
			if encrypt == decrypt {
				return fmt.Errorf("exactly one of --encrypt or --decrypt is required")
			}

			path := args[0]
			if _, err := os.Stat(path); err != nil {
				return apperrors.NewAppError(apperrors.ErrorTypeConfiguration,
					fmt.Sprintf("input file %s not found", path), err)
			}

			key := keyFile
			if key == "" {
				key = backup.DefaultKeyFileName
			}
			keyManager := backup.NewKeyManager(key)
			if encrypt {
				if err := keyManager.EnsureKeyFile(); err != nil {
					return wrapEncryptionError(err)
				}
			}
			manager, err := backup.NewEncryptionManagerFromFile(key)
			if err != nil {
				return wrapEncryptionError(err)
			}
			printer := newPrinter()

			if encrypt {
				out := path + backup.EncryptedSuffix
				if err := manager.EncryptFile(path, out); err != nil {
					return wrapEncryptionError(err)
				}
				if _, err := backup.WriteSidecar(out); err != nil {
					return wrapEncryptionError(err)
				}
				printer.Success(fmt.Sprintf("encrypted to %s", out))
				return nil
			}

			if _, err := os.Stat(backup.SidecarPath(path)); err == nil {
				if err := backup.VerifySidecar(path); err != nil {
					return wrapEncryptionError(err)
				}
			}
			out := strings.TrimSuffix(path, backup.EncryptedSuffix)
			if out == path {
				out = path + ".dec"
			}
			if err := manager.DecryptFile(path, out); err != nil {
				return wrapEncryptionError(err)
			}
			printer.Success(fmt.Sprintf("decrypted to %s", out))
			return nil
		},
	}

	cmd.Flags().BoolVar(&encrypt, "encrypt", false, "encrypt the file")
	cmd.Flags().BoolVar(&decrypt, "decrypt", false, "decrypt the file")

	return cmd
}

func wrapEncryptionError(err error) error {
	return apperrors.NewAppError(apperrors.ErrorTypeEncryption, "encryption operation failed", err)
}
