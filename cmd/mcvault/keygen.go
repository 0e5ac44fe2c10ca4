package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rendis/mcvault/internal/secrets"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new base64 master key",
	Long:  "Prints a random 32-byte master key. Store it as MCVAULT_MASTER_KEY_B64 or under [keys.master_keys] in the config file.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		key, err := secrets.GenerateMasterKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}
