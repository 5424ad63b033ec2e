package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	vold "github.com/aosp-pb/system-vold"
)

var (
	keyPath       string
	keyTmpPath    string
	keySize       int
	keyRefHex     string
	policyVersion int
	hwWrapped     bool
	allowGenerate bool
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage filesystem encryption keys",
	Long: `Manage filesystem encryption keys.

Keys live as sealed blobs in the configured store and are installed into the
kernel for a mounted filesystem. Install prints the key reference that names
the key in encryption policies; evict and status take that reference back.`,
}

var keyInstallCmd = &cobra.Command{
	Use:   "install <mountpoint>",
	Short: "Install a stored key into the kernel for a filesystem",
	Long: `Install a stored key into the kernel for the filesystem mounted at the
given mountpoint.

Examples:
  # Install the key stored at de/key for /data
  vold key install /data --key-path de/key

  # Install with a v2 policy, generating the key if it does not exist yet
  vold key install /data --key-path de/key --policy-version 2 --generate`,
	Args: cobra.ExactArgs(1),
	RunE: runKeyInstall,
}

var keyEvictCmd = &cobra.Command{
	Use:   "evict <mountpoint>",
	Short: "Evict an installed key from the kernel",
	Long: `Evict an installed key from the kernel for the filesystem mounted at the
given mountpoint. Open files still using the key are retried in the
background until they close.

Examples:
  vold key evict /data --ref ab12cd34ef56ab78`,
	Args: cobra.ExactArgs(1),
	RunE: runKeyEvict,
}

var keyStatusCmd = &cobra.Command{
	Use:   "status <mountpoint>",
	Short: "Show the kernel's view of an installed key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeyStatus,
}

var keyGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate and store a new key",
	Long: `Generate a new random key and store it as a sealed blob.

Examples:
  vold key generate --key-path de/key
  vold key generate --key-path de/key --size 64 --secret hunter2`,
	RunE: runKeyGenerate,
}

var keyDestroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Delete a stored key blob",
	RunE:  runKeyDestroy,
}

var keySupportedCmd = &cobra.Command{
	Use:   "supported",
	Short: "Report which kernel keyring mechanism is in use",
	RunE:  runKeySupported,
}

func init() {
	rootCmd.AddCommand(keyCmd)

	keyCmd.AddCommand(keyInstallCmd)
	keyCmd.AddCommand(keyEvictCmd)
	keyCmd.AddCommand(keyStatusCmd)
	keyCmd.AddCommand(keyGenerateCmd)
	keyCmd.AddCommand(keyDestroyCmd)
	keyCmd.AddCommand(keySupportedCmd)

	keyCmd.PersistentFlags().StringVar(&keyPath, "key-path", "", "store path of the key blob")
	keyCmd.PersistentFlags().IntVar(&policyVersion, "policy-version", vold.PolicyVersion1, "encryption policy version (1 or 2)")

	keyInstallCmd.Flags().StringVar(&keyTmpPath, "tmp-path", "", "temporary path used for atomic writes (default <key-path>.tmp)")
	keyInstallCmd.Flags().BoolVar(&hwWrapped, "hw-wrapped", false, "treat the key as hardware-wrapped")
	keyInstallCmd.Flags().BoolVar(&allowGenerate, "generate", false, "generate the key if it is not stored yet")

	keyEvictCmd.Flags().StringVar(&keyRefHex, "ref", "", "hex key reference printed by install")
	keyStatusCmd.Flags().StringVar(&keyRefHex, "ref", "", "hex key reference printed by install")

	keyGenerateCmd.Flags().StringVar(&keyTmpPath, "tmp-path", "", "temporary path used for atomic writes (default <key-path>.tmp)")
	keyGenerateCmd.Flags().IntVar(&keySize, "size", vold.MaxKeySize, "key size in bytes")
	keyGenerateCmd.Flags().BoolVar(&hwWrapped, "hw-wrapped", false, "request a hardware-wrapped key")
}

func runKeyInstall(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)
	mountpoint := args[0]

	if keyPath == "" {
		return auditCmdComplete(cmd, fmt.Errorf("--key-path is required"), started)
	}

	key, err := keyManager.RetrieveOrGenerateKey(
		keyPath, tmpPathFor(keyPath),
		vold.KeyAuthentication{Secret: sealingSecret()},
		vold.KeyGeneration{KeySize: vold.MaxKeySize, AllowGen: allowGenerate, UseHwWrappedKey: hwWrapped},
	)
	if err != nil {
		return auditCmdComplete(cmd, err, started)
	}
	defer key.Destroy()

	policy, err := keyManager.InstallKey(mountpoint, key, vold.EncryptionOptions{
		Version:         policyVersion,
		UseHwWrappedKey: hwWrapped,
	})
	if err != nil {
		return auditCmdComplete(cmd, err, started)
	}

	fmt.Printf("Key installed on %s\n", mountpoint)
	fmt.Printf("  Policy version: %d\n", policy.Options.Version)
	fmt.Printf("  Key reference:  %s\n", vold.KeyRefString(policy.KeyRawRef))

	return auditCmdComplete(cmd, nil, started)
}

func runKeyEvict(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)
	mountpoint := args[0]

	policy, err := policyFromFlags()
	if err != nil {
		return auditCmdComplete(cmd, err, started)
	}

	if err = keyManager.EvictKey(mountpoint, policy); err != nil {
		return auditCmdComplete(cmd, err, started)
	}

	fmt.Printf("Key %s evicted from %s\n", keyRefHex, mountpoint)
	return auditCmdComplete(cmd, nil, started)
}

func runKeyStatus(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)
	mountpoint := args[0]

	policy, err := policyFromFlags()
	if err != nil {
		return auditCmdComplete(cmd, err, started)
	}

	state, err := keyManager.KeyStatus(mountpoint, policy)
	if err != nil {
		return auditCmdComplete(cmd, err, started)
	}

	fmt.Printf("Key %s on %s: %s\n", keyRefHex, mountpoint, state)
	return auditCmdComplete(cmd, nil, started)
}

func runKeyGenerate(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)

	if keyPath == "" {
		return auditCmdComplete(cmd, fmt.Errorf("--key-path is required"), started)
	}

	key, err := keyManager.GenerateStorageKey(vold.KeyGeneration{
		KeySize:         keySize,
		AllowGen:        true,
		UseHwWrappedKey: hwWrapped,
	})
	if err != nil {
		return auditCmdComplete(cmd, err, started)
	}
	defer key.Destroy()

	auth := vold.KeyAuthentication{Secret: sealingSecret()}
	if err = keyManager.StoreKey(keyPath, tmpPathFor(keyPath), auth, key); err != nil {
		return auditCmdComplete(cmd, err, started)
	}

	fmt.Printf("Generated %d-byte key at %s\n", key.Len(), keyPath)
	return auditCmdComplete(cmd, nil, started)
}

func runKeyDestroy(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)

	if keyPath == "" {
		return auditCmdComplete(cmd, fmt.Errorf("--key-path is required"), started)
	}

	if err := keyManager.DestroyKey(keyPath); err != nil {
		return auditCmdComplete(cmd, err, started)
	}

	fmt.Printf("Destroyed key blob at %s\n", keyPath)
	return auditCmdComplete(cmd, nil, started)
}

func runKeySupported(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)

	if keyManager.IsFsKeyringSupported() {
		fmt.Println("Filesystem keyring: supported (per-filesystem key management)")
	} else {
		fmt.Println("Filesystem keyring: not supported (falling back to session keyring)")
	}

	return auditCmdComplete(cmd, nil, started)
}

// policyFromFlags rebuilds an encryption policy from --ref and --policy-version.
func policyFromFlags() (vold.EncryptionPolicy, error) {
	if keyRefHex == "" {
		return vold.EncryptionPolicy{}, fmt.Errorf("--ref is required")
	}

	ref, err := hex.DecodeString(keyRefHex)
	if err != nil {
		return vold.EncryptionPolicy{}, fmt.Errorf("invalid key reference %q: %w", keyRefHex, err)
	}

	return vold.EncryptionPolicy{
		Options:   vold.EncryptionOptions{Version: policyVersion},
		KeyRawRef: ref,
	}, nil
}

func tmpPathFor(path string) string {
	if keyTmpPath != "" {
		return keyTmpPath
	}
	return path + ".tmp"
}
