package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Manage the credit ledger",
}

var creditsGrantCmd = &cobra.Command{
	Use:   "grant <user-id> <amount>",
	Short: "Grant credits to a user",
	Args:  cobra.ExactArgs(2),
	RunE:  runCreditsGrant,
}

var creditsBalanceCmd = &cobra.Command{
	Use:   "balance <user-id>",
	Short: "Show a user's credit balance",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreditsBalance,
}

func init() {
	creditsCmd.AddCommand(creditsGrantCmd)
	creditsCmd.AddCommand(creditsBalanceCmd)

	rootCmd.AddCommand(creditsCmd)
}

func runCreditsGrant(cmd *cobra.Command, args []string) error {
	amount, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", args[1], err)
	}

	rt, err := buildRuntime(false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.ledger.Grant(cmd.Context(), args[0], amount, "manual grant"); err != nil {
		return err
	}

	balance, err := rt.ledger.Balance(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	cmd.Printf("granted %.4f credits to %s (balance: %.4f)\n", amount, args[0], balance)
	return nil
}

func runCreditsBalance(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(false)
	if err != nil {
		return err
	}
	defer rt.Close()

	balance, err := rt.ledger.Balance(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	cmd.Printf("%.4f\n", balance)
	return nil
}
