package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show key manager status",
	Long:  "Show the keyring mechanism in use and the configured key store.",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)

	mechanism := "session keyring (legacy)"
	if keyManager.IsFsKeyringSupported() {
		mechanism = "filesystem keyring"
	}

	fmt.Printf("Keyring mechanism: %s\n", mechanism)
	fmt.Printf("Probe mountpoint:  %s\n", viper.GetString("vold.probe_mountpoint"))
	fmt.Printf("Key store:         %s\n", getStoreConfigSummary(viper.GetString("vold.store_type")))
	fmt.Printf("Audit logging:     %v\n", viper.GetBool("audit.enabled"))

	return auditCmdComplete(cmd, nil, started)
}
