package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/conciergehq/concierge/pkg/concierge/config"
)

// newVaultCmd creates the `concierge vault` command group for the
// encrypted secret store.
func newVaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Manage the encrypted secret vault",
		Long: `The vault keeps API keys and tokens in an AES-256-GCM encrypted file
protected by a master password. At startup, secrets resolve from the
vault first, then the OS keyring, then the environment.

Examples:
  concierge vault init
  concierge vault set llm_api_key
  concierge vault list`,
	}

	cmd.AddCommand(
		newVaultInitCmd(),
		newVaultSetCmd(),
		newVaultListCmd(),
		newVaultDeleteCmd(),
	)
	return cmd
}

// openVault loads config and returns the vault at its configured path.
func openVault(cmd *cobra.Command) (*config.Vault, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	dataDir, err := cfg.EnsureDataDir()
	if err != nil {
		return nil, err
	}
	return config.NewVault(filepath.Join(dataDir, config.DefaultVaultFile)), nil
}

// unlockVault prompts for the master password and unlocks.
func unlockVault(cmd *cobra.Command) (*config.Vault, error) {
	vault, err := openVault(cmd)
	if err != nil {
		return nil, err
	}
	if !vault.Exists() {
		return nil, fmt.Errorf("no vault found, run 'concierge vault init' first")
	}

	password, err := config.ReadPassword("Vault password: ")
	if err != nil {
		return nil, err
	}
	if err := vault.Unlock(password); err != nil {
		return nil, err
	}
	return vault, nil
}

func newVaultInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a new vault",
		RunE: func(cmd *cobra.Command, _ []string) error {
			vault, err := openVault(cmd)
			if err != nil {
				return err
			}
			if vault.Exists() {
				return fmt.Errorf("vault already exists at %s", vault.Path())
			}

			password, err := config.ReadPassword("Choose a master password: ")
			if err != nil {
				return err
			}
			confirm, err := config.ReadPassword("Repeat it: ")
			if err != nil {
				return err
			}
			if password != confirm {
				return fmt.Errorf("passwords do not match")
			}
			if password == "" {
				return fmt.Errorf("password must not be empty")
			}

			if err := vault.Create(password); err != nil {
				return err
			}
			fmt.Printf("Vault created at %s\n", vault.Path())
			return nil
		},
	}
}

func newVaultSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name>",
		Short: "Store a secret (value is prompted, never passed as an argument)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vault, err := unlockVault(cmd)
			if err != nil {
				return err
			}

			value, err := config.ReadPassword(fmt.Sprintf("Value for %s: ", args[0]))
			if err != nil {
				return err
			}
			if err := vault.Set(args[0], value); err != nil {
				return err
			}
			fmt.Printf("Stored %s\n", args[0])
			return nil
		},
	}
}

func newVaultListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored secret names",
		RunE: func(cmd *cobra.Command, _ []string) error {
			vault, err := unlockVault(cmd)
			if err != nil {
				return err
			}

			names := vault.List()
			if len(names) == 0 {
				fmt.Println("Vault is empty.")
				return nil
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func newVaultDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vault, err := unlockVault(cmd)
			if err != nil {
				return err
			}
			if err := vault.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("Removed %s\n", args[0])
			return nil
		},
	}
}
