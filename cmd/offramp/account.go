package main

import (
	"github.com/spf13/cobra"

	"github.com/marwen-abid/offramp-go/errors"
)

var createAccountCmd = &cobra.Command{
	Use:   "create-account",
	Short: "Create a funded custodial account with the asset trustline",
	RunE: func(cmd *cobra.Command, args []string) error {
		pin, _ := cmd.Flags().GetString("pin")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())
		if a.creator == nil {
			return errors.NewClientError(errors.CONFIG_INVALID, "STELLAR_FUNDER_SECRET_KEY is not set", nil)
		}

		account, err := a.creator.CreateAccount(cmd.Context(), pin)
		if account != nil {
			_ = printJSON(account)
		}
		return err
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance <account>",
	Short: "Show the balances of an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())

		balances, err := a.ledger.Balances(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(balances)
	},
}

func init() {
	rootCmd.AddCommand(createAccountCmd, balanceCmd)

	createAccountCmd.Flags().String("pin", "", "PIN the account secret is sealed under")
	_ = createAccountCmd.MarkFlagRequired("pin")
}
