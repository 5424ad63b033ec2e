package cmd

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	vold "github.com/aosp-pb/system-vold"
	"github.com/aosp-pb/system-vold/audit"
	"github.com/aosp-pb/system-vold/persist"
)

var (
	cfgFile     string
	keyManager  *vold.KeyManager
	auditLogger audit.Logger
	cliContext  *CLIContext
)

type CLIContext struct {
	UserID    string
	SessionID string
	Source    string // hostname
	StartTime time.Time
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vold",
	Short: "Manage filesystem encryption keys",
	Long: `Manage filesystem encryption keys: install and evict fscrypt keys on
mounted filesystems, and generate, store, and destroy the sealed key blobs
they are loaded from. Key material is kept in locked memory and zeroed on
release.`,
	PersistentPreRunE: initializeManager,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if keyManager != nil {
			return keyManager.Close()
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

	// Global flags - consistent with config file structure
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.vold.yaml)")
	rootCmd.PersistentFlags().StringP("store-path", "p", "", "path to key blob storage")
	rootCmd.PersistentFlags().String("store-type", "", "storage backend type (file, s3)")
	rootCmd.PersistentFlags().String("secret", "", "key blob sealing secret (or use VOLD_SECRET env var)")
	rootCmd.PersistentFlags().String("probe-mountpoint", "", "mountpoint used to detect filesystem keyring support")
	rootCmd.PersistentFlags().Bool("memory-lock", false, "lock the whole process address space into RAM")

	bindFlagOrPanic("vold.store_path", "store-path")
	bindFlagOrPanic("vold.store_type", "store-type")
	bindFlagOrPanic("vold.secret", "secret")
	bindFlagOrPanic("vold.probe_mountpoint", "probe-mountpoint")
	bindFlagOrPanic("vold.memory_lock", "memory-lock")

	// Audit flags
	rootCmd.PersistentFlags().Bool("audit", false, "enable audit logging")
	rootCmd.PersistentFlags().String("audit-type", "", "audit logger type (file, syslog)")
	rootCmd.PersistentFlags().String("audit-file", "", "audit log file path")

	bindFlagOrPanic("audit.enabled", "audit")
	bindFlagOrPanic("audit.type", "audit-type")
	bindFlagOrPanic("audit.options.file_path", "audit-file")

	// S3 flags (for direct CLI usage)
	rootCmd.PersistentFlags().String("s3-endpoint", "", "S3 endpoint URL")
	rootCmd.PersistentFlags().String("s3-region", "", "S3 region")
	rootCmd.PersistentFlags().String("s3-bucket", "", "S3 bucket name")
	rootCmd.PersistentFlags().String("s3-prefix", "", "S3 key prefix")
	rootCmd.PersistentFlags().String("s3-access-key", "", "S3 access key ID")
	rootCmd.PersistentFlags().String("s3-secret-key", "", "S3 secret access key")
	rootCmd.PersistentFlags().Bool("s3-use-ssl", true, "Use SSL for S3 connections")

	bindFlagOrPanic("vold.s3.endpoint", "s3-endpoint")
	bindFlagOrPanic("vold.s3.region", "s3-region")
	bindFlagOrPanic("vold.s3.bucket", "s3-bucket")
	bindFlagOrPanic("vold.s3.prefix", "s3-prefix")
	bindFlagOrPanic("vold.s3.access_key_id", "s3-access-key")
	bindFlagOrPanic("vold.s3.secret_access_key", "s3-secret-key")
	bindFlagOrPanic("vold.s3.use_ssl", "s3-use-ssl")
}

func bindFlagOrPanic(configKey, flagName string) {
	if err := viper.BindPFlag(configKey, rootCmd.PersistentFlags().Lookup(flagName)); err != nil {
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
		viper.AddConfigPath("/etc/vold")

		viper.SetConfigType("yaml")
		viper.SetConfigName(".vold")
	}

	viper.SetEnvPrefix("VOLD")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file found but error reading it
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	} else {
		if os.Getenv("DEBUG") == "true" {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}
}

func setDefaults() {
	viper.SetDefault("vold.store_type", "file")
	viper.SetDefault("vold.store_path", ".vold")
	viper.SetDefault("vold.probe_mountpoint", vold.DefaultProbeMountpoint)
	viper.SetDefault("vold.memory_lock", false)

	// S3 defaults
	viper.SetDefault("vold.s3.region", "us-east-1")
	viper.SetDefault("vold.s3.prefix", "vold/")
	viper.SetDefault("vold.s3.use_ssl", true)

	// Audit defaults
	viper.SetDefault("audit.enabled", false)
	viper.SetDefault("audit.type", "file")
	viper.SetDefault("audit.options.file_path", "audit.log")
	viper.SetDefault("audit.log_level", "info")
}

func initializeManager(cmd *cobra.Command, args []string) error {
	// Skip initialization for help, completion, and config inspection commands
	if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
		return nil
	}
	if cmd.Name() == "config" || (cmd.Parent() != nil && cmd.Parent().Name() == "config") {
		return nil
	}

	cliContext = &CLIContext{
		UserID:    getCurrentUser(),
		SessionID: generateSessionID(),
		Source:    getHostname(),
		StartTime: time.Now(),
	}

	var err error
	auditLogger, err = createAuditLogger()
	if err != nil {
		return fmt.Errorf("failed to create audit logger: %w", err)
	}

	store, err := createStore(viper.GetString("vold.store_type"))
	if err != nil {
		return fmt.Errorf("failed to create key store: %w", err)
	}

	keyManager, err = vold.NewKeyManager(vold.NewKernel(), store, auditLogger, vold.Options{
		ProbeMountpoint:  viper.GetString("vold.probe_mountpoint"),
		EnableMemoryLock: viper.GetBool("vold.memory_lock"),
		UserID:           cliContext.UserID,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize key manager: %w", err)
	}

	return nil
}

func createAuditLogger() (audit.Logger, error) {
	return audit.NewLogger(&audit.Config{
		Enabled: viper.GetBool("audit.enabled"),
		Type:    audit.ConfigType(viper.GetString("audit.type")),
		Options: map[string]interface{}{
			"file_path": viper.GetString("audit.options.file_path"),
		},
		LogLevel: viper.GetString("audit.log_level"),
	})
}

func createStore(storeType string) (persist.Store, error) {
	switch strings.ToLower(storeType) {
	case "file":
		return persist.NewFileSystemStore(viper.GetString("vold.store_path"))

	case "s3":
		s3Config := persist.S3Config{
			Endpoint:        viper.GetString("vold.s3.endpoint"),
			AccessKeyID:     viper.GetString("vold.s3.access_key_id"),
			SecretAccessKey: viper.GetString("vold.s3.secret_access_key"),
			Bucket:          viper.GetString("vold.s3.bucket"),
			KeyPrefix:       viper.GetString("vold.s3.prefix"),
			UseSSL:          viper.GetBool("vold.s3.use_ssl"),
			Region:          viper.GetString("vold.s3.region"),
		}

		if err := validateS3Config(s3Config); err != nil {
			return nil, fmt.Errorf("invalid S3 configuration: %w", err)
		}

		return persist.NewS3Store(s3Config)

	default:
		return nil, fmt.Errorf("unsupported store type: %s. Supported types: file, s3", storeType)
	}
}

func validateS3Config(config persist.S3Config) error {
	var missing []string

	if config.Bucket == "" {
		missing = append(missing, "vold.s3.bucket")
	}
	if config.Region == "" {
		missing = append(missing, "vold.s3.region")
	}

	hasAccessKey := config.AccessKeyID != ""
	hasSecretKey := config.SecretAccessKey != ""

	if hasAccessKey && !hasSecretKey {
		missing = append(missing, "vold.s3.secret_access_key")
	}
	if !hasAccessKey && hasSecretKey {
		missing = append(missing, "vold.s3.access_key_id")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	return nil
}

// getStoreConfigSummary returns a summary of the current store configuration
func getStoreConfigSummary(storeType string) string {
	switch strings.ToLower(storeType) {
	case "file":
		return fmt.Sprintf("File store: path=%s", viper.GetString("vold.store_path"))
	case "s3":
		return fmt.Sprintf("S3 store: bucket=%s, region=%s, prefix=%s",
			viper.GetString("vold.s3.bucket"),
			viper.GetString("vold.s3.region"),
			viper.GetString("vold.s3.prefix"))
	default:
		return fmt.Sprintf("Unknown store type: %s", storeType)
	}
}

// sealingSecret resolves the blob sealing secret from flag, config, or env.
func sealingSecret() string {
	secret := viper.GetString("vold.secret")
	if secret == "" {
		secret = os.Getenv("VOLD_SECRET")
	}
	return secret
}

// getCurrentUser retrieves the username of the currently logged-in user.
// It returns "unknown_user" if the user cannot be determined.
func getCurrentUser() string {
	currentUser, err := user.Current()
	if err != nil {
		// This can happen in restricted environments (e.g. scratch images
		// without /etc/passwd), so fall back to the USER env var.
		envUser := os.Getenv("USER")
		if envUser != "" {
			return envUser
		}
		return "unknown_user"
	}
	return currentUser.Username
}

// generateSessionID creates a new unique session identifier.
// Uses UUID v4.
func generateSessionID() string {
	return uuid.New().String()
}

// getHostname retrieves the hostname of the machine.
// It returns "unknown_host" if the hostname cannot be determined.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		log.Printf("Warning: could not get hostname: %v. Falling back to 'unknown_host'.", err)
		return "unknown_host"
	}
	return hostname
}

func auditCmdStart(cmd *cobra.Command, args []string) time.Time {
	now := time.Now()
	err := auditLogger.Log("COMMAND_START", true, map[string]interface{}{
		"command":    cmd.CommandPath(),
		"args":       args,
		"flags":      sanitizeFlags(cmd),
		"user_id":    cliContext.UserID,
		"session_id": cliContext.SessionID,
		"source":     cliContext.Source,
	})
	if err != nil {
		log.Printf("ERROR: %v\n", err)
	}
	return now
}

func auditCmdComplete(cmd *cobra.Command, err error, startedTime time.Time) error {
	if auditLogger != nil {
		auditLogger.Log("COMMAND_COMPLETE", err == nil, map[string]interface{}{
			"command":     cmd.CommandPath(),
			"duration_ms": time.Since(startedTime).Milliseconds(),
			"success":     err == nil,
			"error":       formatError(err),
			"user_id":     cliContext.UserID,
			"session_id":  cliContext.SessionID,
		})
	}
	return err
}

func formatError(err error) string {
	if err == nil {
		return ""
	}

	var messages []string

	// Unwrap the error chain and collect all messages
	for err != nil {
		messages = append(messages, err.Error())
		err = errors.Unwrap(err)
	}

	if len(messages) > 1 {
		// Remove duplicates that might occur from unwrapping
		uniqueMessages := make([]string, 0, len(messages))
		seen := make(map[string]bool)

		for _, msg := range messages {
			if !seen[msg] {
				uniqueMessages = append(uniqueMessages, msg)
				seen[msg] = true
			}
		}

		if len(uniqueMessages) > 1 {
			return fmt.Sprintf("Error: %s (caused by: %s)",
				uniqueMessages[0],
				strings.Join(uniqueMessages[1:], " -> "))
		}
	}

	return fmt.Sprintf("Error: %s", messages[0])
}

func sanitizeFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if flag.Changed {
			if isSensitiveFlag(flag.Name) {
				flags[flag.Name] = "[REDACTED]"
			} else {
				flags[flag.Name] = flag.Value.String()
			}
		}
	})
	return flags
}

// isSensitiveFlag checks if a flag name is sensitive (for logging purposes)
func isSensitiveFlag(name string) bool {
	sensitive := []string{"secret", "passphrase", "password", "token"}
	lower := strings.ToLower(name)
	for _, s := range sensitive {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
