package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/courierbot/courier/pkg/courier/config"
)

// newKeyringCmd manages provider API keys in the OS keyring so they
// never need to live in the config file.
func newKeyringCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyring",
		Short: "Manage provider API keys in the OS keyring",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <provider>",
			Short: "Store an API key (read from stdin)",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				fmt.Fprintf(os.Stderr, "API key for %s: ", args[0])
				reader := bufio.NewReader(os.Stdin)
				key, err := reader.ReadString('\n')
				if err != nil {
					return fmt.Errorf("reading key: %w", err)
				}
				key = strings.TrimSpace(key)
				if key == "" {
					return fmt.Errorf("empty key")
				}
				if err := config.StoreKeyring(args[0]+"_api_key", key); err != nil {
					return fmt.Errorf("storing key: %w", err)
				}
				fmt.Printf("Stored API key for %s.\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <provider>",
			Short: "Remove a stored API key",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				if err := config.DeleteKeyring(args[0] + "_api_key"); err != nil {
					return fmt.Errorf("deleting key: %w", err)
				}
				fmt.Printf("Deleted API key for %s.\n", args[0])
				return nil
			},
		},
	)
	return cmd
}
