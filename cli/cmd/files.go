package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	encryptPassword string
	encryptKeep     bool
	decryptPassword string
	decryptOut      string
)

var encryptCmd = &cobra.Command{
	Use:   "encrypt <file>",
	Short: "Encrypt a file into the vault",
	Long: `Encrypt a plaintext file into the vault's files directory. The source
file is securely erased after a successful import unless --keep is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runEncrypt,
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt <container>",
	Short: "Decrypt a vault container",
	Long:  "Decrypt an encrypted container to stdout or to the file given with --out.",
	Args:  cobra.ExactArgs(1),
	RunE:  runDecrypt,
}

func init() {
	encryptCmd.Flags().StringVar(&encryptPassword, "password", "", "vault password (or SECUREFOLDER_PASSWORD env var)")
	encryptCmd.Flags().BoolVar(&encryptKeep, "keep", false, "keep the plaintext source instead of erasing it")
	decryptCmd.Flags().StringVar(&decryptPassword, "password", "", "vault password (or SECUREFOLDER_PASSWORD env var)")
	decryptCmd.Flags().StringVarP(&decryptOut, "out", "o", "", "write plaintext to this file instead of stdout")
	rootCmd.AddCommand(encryptCmd)
	rootCmd.AddCommand(decryptCmd)
}

func runEncrypt(cmd *cobra.Command, args []string) error {
	if err := unlockSession(encryptPassword); err != nil {
		return err
	}

	srcPath := args[0]

	if encryptKeep {
		src, err := os.Open(srcPath)
		if err != nil {
			return err
		}
		defer src.Close()

		info, err := src.Stat()
		if err != nil {
			return err
		}

		destPath := srcPath + ".vlt"
		meta := fileMetadataFor(srcPath, info)
		if err := session.EncryptFile(src, destPath, meta); err != nil {
			return err
		}
		fmt.Printf("Encrypted to %s (source kept)\n", destPath)
		return nil
	}

	destPath, err := session.ImportFile(srcPath)
	if err != nil {
		return err
	}
	fmt.Printf("Imported as %s (source erased)\n", destPath)
	return nil
}

func runDecrypt(cmd *cobra.Command, args []string) error {
	if err := unlockSession(decryptPassword); err != nil {
		return err
	}

	out := os.Stdout
	if decryptOut != "" {
		f, err := os.OpenFile(decryptOut, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	meta, err := session.ExportFile(args[0], out)
	if err != nil {
		return err
	}

	if decryptOut != "" {
		fmt.Printf("Decrypted %s (original name %q)\n", args[0], meta.OriginalName)
	}
	return nil
}
