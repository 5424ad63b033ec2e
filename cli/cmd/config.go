package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var configFormat string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
	Long: `Inspect the effective configuration assembled from the config file,
environment variables (VOLD_* prefix), flags, and defaults.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the effective configuration with sensitive values redacted.

Examples:
  vold config show
  vold config show --format yaml
  vold config show --format json`,
	RunE: runConfigShow,
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List available configuration keys",
	RunE:  runConfigKeys,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the current configuration",
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configKeysCmd)
	configCmd.AddCommand(configValidateCmd)

	configCmd.PersistentFlags().StringVar(&configFormat, "format", "table", "output format (table, yaml, json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	switch strings.ToLower(configFormat) {
	case "table":
		return printConfigTable()
	case "yaml":
		return printConfigYAML()
	case "json":
		return printConfigJSON()
	default:
		return fmt.Errorf("unsupported format: %s (valid: table, yaml, json)", configFormat)
	}
}

func runConfigKeys(cmd *cobra.Command, args []string) error {
	keys := getConfigKeyDescriptions()

	switch strings.ToLower(configFormat) {
	case "table":
		return printConfigKeysTable(keys)
	case "yaml":
		return printConfigKeysYAML(keys)
	case "json":
		return printConfigKeysJSON(keys)
	default:
		return fmt.Errorf("unsupported format: %s (valid: table, yaml, json)", configFormat)
	}
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	problems := validateConfiguration()
	if len(problems) == 0 {
		fmt.Println("Configuration is valid.")
		return nil
	}

	for _, p := range problems {
		fmt.Printf("  - %s\n", p)
	}
	return fmt.Errorf("configuration has %d problem(s)", len(problems))
}

func getConfigKeyDescriptions() map[string]string {
	return map[string]string{
		"vold.store_type":           "Storage backend type (file, s3)",
		"vold.store_path":           "Path to key blob storage (for file store)",
		"vold.secret":               "Sealing secret for stored key blobs",
		"vold.probe_mountpoint":     "Mountpoint used to detect filesystem keyring support",
		"vold.memory_lock":          "Lock the whole process address space into RAM",
		"vold.s3.endpoint":          "S3 endpoint URL",
		"vold.s3.bucket":            "S3 bucket name",
		"vold.s3.region":            "S3 region",
		"vold.s3.prefix":            "S3 key prefix",
		"vold.s3.access_key_id":     "S3 access key ID",
		"vold.s3.secret_access_key": "S3 secret access key",
		"vold.s3.use_ssl":           "Use SSL for S3 connections",
		"audit.enabled":             "Enable audit logging",
		"audit.type":                "Audit logger type (file, syslog)",
		"audit.options.file_path":   "Audit log file path",
		"audit.log_level":           "Audit log level (info, warn, error)",
	}
}
