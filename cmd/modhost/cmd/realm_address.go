package cmd

import (
	"fmt"
	"net/netip"

	"github.com/nfrund/modhost/internal/config"
	"github.com/nfrund/modhost/internal/realm"
	"github.com/spf13/cobra"
)

var realmAddressCmd = &cobra.Command{
	Use:   "realm-address <client-ip>",
	Short: "Show which realm address a client would be given",
	Long: `Uses the REALM_* and NETWORK_ANY_PRIVATE_CLIENT_IS_LOCAL settings to pick
between the realm's local and external address for the given client.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := netip.ParseAddr(args[0])
		if err != nil {
			return fmt.Errorf("invalid client address: %w", err)
		}

		cfg, err := config.New()
		if err != nil {
			return err
		}
		r, err := realm.New(cfg.GetRealm())
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), r.AddressForClient(client))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(realmAddressCmd)
}
