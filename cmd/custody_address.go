package cmd

import (
	"fmt"

	"github.com/gift_custody/custody"
	"github.com/spf13/cobra"
)

var newMnemonic bool

var custodyAddressCmd = &cobra.Command{
	Use:   "custody-address",
	Short: "Print the custody account address",
	Long: `Print the address gifts are held in, derived from custody.mnemonic at
custody.account_index (path m/44'/60'/0'/0/<index>) or taken from
custody.address. With --new a fresh mnemonic is generated and printed instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if newMnemonic {
			mnemonic, err := custody.GenerateMnemonic()
			if err != nil {
				return err
			}
			_, addr, err := custody.DeriveKey(mnemonic, 0)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), mnemonic)
			fmt.Fprintln(cmd.OutOrStdout(), addr.Hex())
			return nil
		}
		addr, _, err := custodyAccount(appConfig.Custody)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), addr.Hex())
		return nil
	},
}

func init() {
	custodyAddressCmd.Flags().BoolVar(&newMnemonic, "new", false, "generate a new mnemonic")
}
