package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marwen-abid/offramp-go"
	"github.com/marwen-abid/offramp-go/signers"
	"github.com/marwen-abid/offramp-go/withdraw"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var withdrawCmd = &cobra.Command{
	Use:   "withdraw",
	Short: "Open a withdrawal and pay the anchor once the user finished the interactive flow",
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, _ := cmd.Flags().GetString("amount")
		user, _ := cmd.Flags().GetString("user")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())

		a.orch.Hooks().On(withdraw.HookInitiated, func(ev withdraw.Event) {
			fmt.Fprintf(os.Stderr, "Open %s to complete the withdrawal\n", ev.InteractiveURL)
		})

		res, err := a.orch.Withdraw(cmd.Context(), withdraw.Request{Amount: amount, UserID: user})
		if res != nil {
			_ = printJSON(res)
		}
		return err
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Open a withdrawal and print the interactive URL without waiting",
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, _ := cmd.Flags().GetString("amount")
		user, _ := cmd.Flags().GetString("user")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())

		session, err := a.orch.Start(cmd.Context(), withdraw.Request{Amount: amount, UserID: user})
		if err != nil {
			return err
		}
		return printJSON(withdraw.Result{
			SessionID:      session.ID,
			InteractiveURL: session.InteractiveURL,
			FinalStatus:    offramp.StatusIncomplete,
		})
	},
}

var remitCmd = &cobra.Command{
	Use:   "remit <id>",
	Short: "Watch an existing withdrawal and pay the anchor once it is ready",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sealed, _ := cmd.Flags().GetString("sealed-secret")
		pin, _ := cmd.Flags().GetString("pin")

		var funds offramp.Signer
		if sealed != "" {
			s, err := signers.FromSealedSecret(sealed, pin)
			if err != nil {
				return err
			}
			funds = s
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())

		res, err := a.orch.Resume(cmd.Context(), args[0], funds)
		if res != nil {
			_ = printJSON(res)
		}
		return err
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show the anchor's view of a withdrawal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())

		report, err := a.orch.CheckStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

func init() {
	rootCmd.AddCommand(withdrawCmd, startCmd, remitCmd, statusCmd)

	for _, c := range []*cobra.Command{withdrawCmd, startCmd} {
		c.Flags().String("amount", "", "Amount of the withdrawal asset, e.g. 10.5")
		c.Flags().String("user", "", "Id of the user the withdrawal belongs to")
		_ = c.MarkFlagRequired("amount")
		_ = c.MarkFlagRequired("user")
	}

	remitCmd.Flags().String("sealed-secret", "", "Sealed secret of a custodial funds account")
	remitCmd.Flags().String("pin", "", "PIN that opens --sealed-secret")
}
