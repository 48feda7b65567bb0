package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	vault "github.com/kcpdme/MySecureFolder-sub002"
	"github.com/kcpdme/MySecureFolder-sub002/audit"
	"github.com/kcpdme/MySecureFolder-sub002/persist"
)

var (
	cfgFile     string
	vaultPath   string
	session     *vault.Vault
	auditLogger audit.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "securefolder",
	Short: "Per-file encrypted vault for personal media",
	Long: `A per-file encrypted vault: every file is individually encrypted at rest
under its own key, a single password unlocks access for a session, and the
password can be rotated without re-encrypting bulk data. Built on
ChaCha20-Poly1305 key wrapping, Argon2id derivation and a crash-safe
rotation journal.`,
	PersistentPreRunE: initializeSession,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if session != nil {
			return session.Close()
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.securefolder.yaml)")
	rootCmd.PersistentFlags().StringVarP(&vaultPath, "vault-path", "p", "", "path to vault storage")
	rootCmd.PersistentFlags().String("store-type", "", "state store backend (filesystem, s3)")
	rootCmd.PersistentFlags().Int64("auto-lock-ms", 0, "auto-lock timeout in ms (0 immediate, -1 never)")

	bindFlagOrPanic("vault.path", "vault-path")
	bindFlagOrPanic("vault.store_type", "store-type")
	bindFlagOrPanic("vault.auto_lock_ms", "auto-lock-ms")

	rootCmd.PersistentFlags().Bool("audit", false, "enable audit logging")
	rootCmd.PersistentFlags().String("audit-type", "", "audit logger type (file, syslog)")
	rootCmd.PersistentFlags().String("audit-file", "", "audit log file path")

	bindFlagOrPanic("audit.enabled", "audit")
	bindFlagOrPanic("audit.type", "audit-type")
	bindFlagOrPanic("audit.options.file_path", "audit-file")

	rootCmd.PersistentFlags().String("s3-endpoint", "", "S3 endpoint URL")
	rootCmd.PersistentFlags().String("s3-region", "", "S3 region")
	rootCmd.PersistentFlags().String("s3-bucket", "", "S3 bucket name")
	rootCmd.PersistentFlags().String("s3-prefix", "", "S3 key prefix")
	rootCmd.PersistentFlags().String("s3-access-key", "", "S3 access key ID")
	rootCmd.PersistentFlags().String("s3-secret-key", "", "S3 secret access key")
	rootCmd.PersistentFlags().Bool("s3-use-ssl", true, "Use SSL for S3 connections")

	bindFlagOrPanic("vault.s3.endpoint", "s3-endpoint")
	bindFlagOrPanic("vault.s3.region", "s3-region")
	bindFlagOrPanic("vault.s3.bucket", "s3-bucket")
	bindFlagOrPanic("vault.s3.prefix", "s3-prefix")
	bindFlagOrPanic("vault.s3.access_key_id", "s3-access-key")
	bindFlagOrPanic("vault.s3.secret_access_key", "s3-secret-key")
	bindFlagOrPanic("vault.s3.use_ssl", "s3-use-ssl")
}

func bindFlagOrPanic(configKey, flagName string) {
	var flag *pflag.Flag
	if flag = rootCmd.PersistentFlags().Lookup(flagName); flag == nil {
		panic(fmt.Sprintf("unknown flag %s", flagName))
	}
	if err := viper.BindPFlag(configKey, flag); err != nil {
		panic(fmt.Sprintf("failed to bind %s flag: %v", flagName, err))
	}
}

func initConfig() {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")

		viper.SetConfigType("yaml")
		viper.SetConfigName(".securefolder")
	}

	viper.SetEnvPrefix("SECUREFOLDER")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
		// Config file not found is fine: defaults and env vars apply.
	}
}

func setDefaults() {
	viper.SetDefault("vault.path", ".securefolder")
	viper.SetDefault("vault.store_type", "filesystem")
	viper.SetDefault("vault.auto_lock_ms", 60_000)
	viper.SetDefault("vault.secure_erase_passes", 3)

	viper.SetDefault("vault.s3.region", "us-east-1")
	viper.SetDefault("vault.s3.prefix", "securefolder/")
	viper.SetDefault("vault.s3.use_ssl", true)

	viper.SetDefault("audit.enabled", false)
	viper.SetDefault("audit.type", "file")
	viper.SetDefault("audit.log_level", "info")
	viper.SetDefault("audit.options.file_path", "audit.log")
}

func initializeSession(cmd *cobra.Command, args []string) error {
	switch cmd.Name() {
	case "help", "completion", "__complete", "config":
		return nil
	}

	vaultPath = viper.GetString("vault.path")
	if err := os.MkdirAll(vaultPath, 0700); err != nil {
		return fmt.Errorf("failed to create vault directory: %w", err)
	}

	if viper.GetString("audit.options.file_path") == "audit.log" {
		viper.Set("audit.options.file_path", filepath.Join(vaultPath, "audit.log"))
	}

	var err error
	auditLogger, err = createAuditLogger()
	if err != nil {
		return fmt.Errorf("failed to create audit logger: %w", err)
	}

	store, err := createStore()
	if err != nil {
		return fmt.Errorf("failed to create state store: %w", err)
	}

	options := vault.DefaultOptions(filepath.Join(vaultPath, "files"))
	options.AutoLockTimeoutMs = viper.GetInt64("vault.auto_lock_ms")
	options.SecureErasePasses = viper.GetInt("vault.secure_erase_passes")
	options.DecoyPassword = os.Getenv("SECUREFOLDER_DECOY_PASSWORD")

	session, err = vault.New(options, store, auditLogger, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize vault: %w", err)
	}
	return nil
}

func createAuditLogger() (audit.Logger, error) {
	return audit.NewLogger(audit.Config{
		Enabled:  viper.GetBool("audit.enabled"),
		Type:     audit.ConfigType(viper.GetString("audit.type")),
		LogLevel: audit.LogLevel(viper.GetString("audit.log_level")),
		Options: map[string]interface{}{
			"file_path": viper.GetString("audit.options.file_path"),
		},
	})
}

func createStore() (persist.Store, error) {
	storeType := persist.StoreType(viper.GetString("vault.store_type"))
	switch storeType {
	case persist.StoreTypeS3:
		return persist.NewStore(persist.Config{
			Type: persist.StoreTypeS3,
			S3: &persist.S3Options{
				Endpoint:        viper.GetString("vault.s3.endpoint"),
				AccessKeyID:     viper.GetString("vault.s3.access_key_id"),
				SecretAccessKey: viper.GetString("vault.s3.secret_access_key"),
				Bucket:          viper.GetString("vault.s3.bucket"),
				Prefix:          viper.GetString("vault.s3.prefix"),
				Region:          viper.GetString("vault.s3.region"),
				UseSSL:          viper.GetBool("vault.s3.use_ssl"),
			},
		})
	default:
		return persist.NewStore(persist.Config{
			Type:     persist.StoreTypeFileSystem,
			BasePath: filepath.Join(vaultPath, "state"),
		})
	}
}
