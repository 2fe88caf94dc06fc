package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var asofFlag string

var depositCmd = &cobra.Command{
	Use:   "deposit <quant> <currency>",
	Short: "Deposit cash into the account",
	Args:  cobra.ExactArgs(2),
	RunE:  runDeposit,
}

var withdrawCmd = &cobra.Command{
	Use:   "withdraw <quant> <currency>",
	Short: "Withdraw cash from the account",
	Args:  cobra.ExactArgs(2),
	RunE:  runWithdraw,
}

var balancesCmd = &cobra.Command{
	Use:   "balances",
	Short: "Show per-currency cash balances",
	Args:  cobra.NoArgs,
	RunE:  runBalances,
}

var advanceCmd = &cobra.Command{
	Use:   "advance",
	Short: "Advance simulated time, filling working orders",
	Args:  cobra.NoArgs,
	RunE:  runAdvance,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear all orders, positions and balances",
	Args:  cobra.NoArgs,
	RunE:  runReset,
}

func init() {
	rootCmd.AddCommand(depositCmd, withdrawCmd, balancesCmd, advanceCmd, resetCmd)
	rootCmd.PersistentFlags().StringVarP(&asofFlag, "asof", "t", "", "simulation timestamp (RFC3339 or YYYY-MM-DD, default now)")
}

func runDeposit(cmd *cobra.Command, args []string) error {
	quant, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("quant: %w", err)
	}
	asof, err := parseAsOf(asofFlag)
	if err != nil {
		return err
	}

	b, done, err := openBroker()
	if err != nil {
		return err
	}
	defer done()

	if err := b.Deposit(cmd.Context(), args[1], quant, asof); err != nil {
		return err
	}
	logger.Info("deposited", zap.Float64("quant", quant), zap.String("currency", args[1]), zap.Time("asof", asof))
	return nil
}

func runWithdraw(cmd *cobra.Command, args []string) error {
	quant, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("quant: %w", err)
	}
	asof, err := parseAsOf(asofFlag)
	if err != nil {
		return err
	}

	b, done, err := openBroker()
	if err != nil {
		return err
	}
	defer done()

	if err := b.Withdraw(cmd.Context(), args[1], quant, asof); err != nil {
		return err
	}
	logger.Info("withdrew", zap.Float64("quant", quant), zap.String("currency", args[1]), zap.Time("asof", asof))
	return nil
}

func runBalances(cmd *cobra.Command, args []string) error {
	asof, err := parseAsOf(asofFlag)
	if err != nil {
		return err
	}

	b, done, err := openBroker()
	if err != nil {
		return err
	}
	defer done()

	bals, err := b.Balances(cmd.Context(), asof)
	if err != nil {
		return err
	}
	if len(bals) == 0 {
		fmt.Println("no balances")
		return nil
	}

	fmt.Printf("%-8s %12s %12s %10s  %s\n", "CUR", "NET", "SETTLED", "RATE", "ASOF")
	for _, bal := range bals {
		fmt.Printf("%-8s %12s %12s %10.6f  %s\n",
			bal.Currency, bal.Net, bal.Settled, bal.Rate, bal.AsOf.Format("2006-01-02 15:04"))
	}
	return nil
}

func runAdvance(cmd *cobra.Command, args []string) error {
	asof, err := parseAsOf(asofFlag)
	if err != nil {
		return err
	}

	b, done, err := openBroker()
	if err != nil {
		return err
	}
	defer done()

	if err := b.Advance(cmd.Context(), asof); err != nil {
		return err
	}
	logger.Info("advanced", zap.Time("target", asof))
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	b, done, err := openBroker()
	if err != nil {
		return err
	}
	defer done()

	if err := b.Reset(cmd.Context()); err != nil {
		return err
	}
	logger.Info("account reset")
	return nil
}
