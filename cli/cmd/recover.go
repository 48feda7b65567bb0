package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	recoverPassword string
	recoverPhrase   string
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Recover vault access with the recovery phrase",
	Long: `Restore vault access on a device that lost its stored recovery phrase.
Requires both the password and the 12-word phrase written down at setup.`,
	RunE: runRecover,
}

func init() {
	recoverCmd.Flags().StringVar(&recoverPassword, "password", "", "vault password (or SECUREFOLDER_PASSWORD env var)")
	recoverCmd.Flags().StringVar(&recoverPhrase, "phrase", "", "12-word recovery phrase")
	rootCmd.AddCommand(recoverCmd)
}

func runRecover(cmd *cobra.Command, args []string) error {
	pw, err := passwordFromFlagOrEnv(recoverPassword, "SECUREFOLDER_PASSWORD")
	if err != nil {
		return err
	}
	if recoverPhrase == "" {
		return fmt.Errorf("the --phrase flag is required")
	}

	if err := session.Recover(pw, recoverPhrase); err != nil {
		return err
	}
	fmt.Println("Vault recovered and unlocked.")
	return nil
}
