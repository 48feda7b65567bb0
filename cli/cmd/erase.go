package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	erasePassword string
	eraseConfirm  bool
)

var eraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Destroy the vault and all encrypted files",
	Long: `Securely erase every container and destroy all key-management state.
Irreversible. Requires the vault password and the --yes flag.`,
	RunE: runErase,
}

func init() {
	eraseCmd.Flags().StringVar(&erasePassword, "password", "", "vault password (or SECUREFOLDER_PASSWORD env var)")
	eraseCmd.Flags().BoolVar(&eraseConfirm, "yes", false, "confirm irreversible destruction")
	rootCmd.AddCommand(eraseCmd)
}

func runErase(cmd *cobra.Command, args []string) error {
	if !eraseConfirm {
		return fmt.Errorf("refusing to erase without --yes")
	}
	if err := unlockSession(erasePassword); err != nil {
		return err
	}

	if err := session.EraseVault(); err != nil {
		return fmt.Errorf("erase finished with errors: %w", err)
	}
	fmt.Println("Vault destroyed.")
	return nil
}
