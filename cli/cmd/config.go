package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit CLI configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}

var validConfigKeys = []string{
	"vault.path",
	"vault.store_type",
	"vault.auto_lock_ms",
	"vault.secure_erase_passes",
	"vault.s3.endpoint",
	"vault.s3.region",
	"vault.s3.bucket",
	"vault.s3.prefix",
	"vault.s3.use_ssl",
	"audit.enabled",
	"audit.type",
	"audit.log_level",
	"audit.options.file_path",
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	keys := append([]string(nil), validConfigKeys...)
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Printf("%-28s %v\n", key, viper.Get(key))
	}
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Printf("\nConfig file: %s\n", used)
	}
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, raw := args[0], args[1]

	valid := false
	for _, k := range validConfigKeys {
		if k == key {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("unknown configuration key: %s", key)
	}

	viper.Set(key, convertConfigValue(raw))

	path := configFilePath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	// Round-trip through yaml so the file only carries explicit settings.
	settings := viper.AllSettings()
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}

	fmt.Printf("Set %s = %s in %s\n", key, raw, path)
	return nil
}

func configFilePath() string {
	if cfgFile != "" {
		return cfgFile
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".securefolder.yaml")
}

func convertConfigValue(value string) interface{} {
	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return i
	}
	return value
}
