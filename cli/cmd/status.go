package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault status",
	Long:  "Display vault provisioning, lock and rotation state, and the container count.",
	RunE:  showStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func showStatus(cmd *cobra.Command, args []string) error {
	status, err := session.Status()
	if err != nil {
		return err
	}

	fmt.Println("Vault Status")
	fmt.Println("============")
	fmt.Printf("Set up:             %v\n", status.SetUp)
	fmt.Printf("Unlocked:           %v\n", status.Unlocked)
	fmt.Printf("Rotation:           %s\n", status.Rotation)
	fmt.Printf("Encrypted files:    %d\n", status.FileCount)
	fmt.Printf("Biometric unlock:   %v\n", status.BiometricEnrolled)
	fmt.Printf("Memory protection:  %s\n", status.MemoryProtection)
	fmt.Printf("Vault path:         %s\n", vaultPath)
	return nil
}
