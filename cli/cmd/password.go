package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	oldPassword string
	newPassword string
)

var changePasswordCmd = &cobra.Command{
	Use:   "change-password",
	Short: "Rotate the vault password",
	Long: `Rotate the master key from the old password to the new one. Every
container header and the database key are re-wrapped; file bodies are not
re-encrypted. The protocol is journaled and crash-safe: if it is interrupted,
re-running it with the same passwords completes the migration.`,
	RunE: runChangePassword,
}

func init() {
	changePasswordCmd.Flags().StringVar(&oldPassword, "old-password", "", "current password (or SECUREFOLDER_OLD_PASSWORD)")
	changePasswordCmd.Flags().StringVar(&newPassword, "new-password", "", "new password (or SECUREFOLDER_NEW_PASSWORD)")
	rootCmd.AddCommand(changePasswordCmd)
}

func runChangePassword(cmd *cobra.Command, args []string) error {
	oldPw, err := passwordFromFlagOrEnv(oldPassword, "SECUREFOLDER_OLD_PASSWORD")
	if err != nil {
		return err
	}
	newPw, err := passwordFromFlagOrEnv(newPassword, "SECUREFOLDER_NEW_PASSWORD")
	if err != nil {
		return err
	}

	if err := session.ChangePassword(oldPw, newPw); err != nil {
		return err
	}
	fmt.Println("Password rotated; all containers migrated to the new key.")
	return nil
}
