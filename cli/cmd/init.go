package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initPassword string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Set up a new vault",
	Long: `Provision a new vault: generates the recovery phrase, derives the first
master key and issues the password verifier and database key. The recovery
phrase is printed exactly once; write it down, it never changes and it is
required to recover the vault on another device.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initPassword, "password", "", "vault password (or SECUREFOLDER_PASSWORD env var)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	pw, err := passwordFromFlagOrEnv(initPassword, "SECUREFOLDER_PASSWORD")
	if err != nil {
		return err
	}

	phrase, err := session.Setup(pw)
	if err != nil {
		return err
	}

	fmt.Println("Vault created.")
	fmt.Println()
	fmt.Println("Recovery phrase (shown once, write it down):")
	fmt.Printf("  %s\n", phrase)
	return nil
}
