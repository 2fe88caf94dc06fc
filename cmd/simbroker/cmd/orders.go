package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rustyeddy/simbroker/broker"
)

var orderFlags struct {
	orderType string
	tif       string
	limit     float64
	stop      float64
	currency  string
	secType   string
	mult      float64
	ref       string
}

var buyCmd = &cobra.Command{
	Use:   "buy <quant> <symbol.market>",
	Short: "Submit a buy order",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTrade(cmd, args, broker.ActionBuy)
	},
}

var sellCmd = &cobra.Command{
	Use:   "sell <quant> <symbol.market>",
	Short: "Submit a sell order",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTrade(cmd, args, broker.ActionSell)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <order-ref>",
	Short: "Cancel an order and its attached subtree",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

var ocaGroup string

var ocaCmd = &cobra.Command{
	Use:   "oca <orders.json>",
	Short: "Submit a one-cancels-all group from a JSON order list",
	Args:  cobra.ExactArgs(1),
	RunE:  runOCA,
}

var ordersSince string

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "List orders posted by the simulation time",
	Args:  cobra.NoArgs,
	RunE:  runOrders,
}

var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "Show the latest position per instrument",
	Args:  cobra.NoArgs,
	RunE:  runPositions,
}

func init() {
	rootCmd.AddCommand(buyCmd, sellCmd, cancelCmd, ocaCmd, ordersCmd, positionsCmd)

	for _, c := range []*cobra.Command{buyCmd, sellCmd} {
		c.Flags().StringVar(&orderFlags.orderType, "type", "MKT", "order type (MKT MIT MOO MOC LMT LOO LOC STP)")
		c.Flags().StringVar(&orderFlags.tif, "tif", "GTC", "time in force (GTC DAY IOC)")
		c.Flags().Float64Var(&orderFlags.limit, "limit", 0, "limit price")
		c.Flags().Float64Var(&orderFlags.stop, "stop", 0, "stop price")
		c.Flags().StringVar(&orderFlags.currency, "currency", "USD", "instrument currency")
		c.Flags().StringVar(&orderFlags.secType, "sectype", "STK", "security type")
		c.Flags().Float64Var(&orderFlags.mult, "mult", 1, "contract multiplier")
		c.Flags().StringVar(&orderFlags.ref, "ref", "", "order ref to amend an open order")
	}

	ocaCmd.Flags().StringVar(&ocaGroup, "group", "", "existing group id to append to")
	ordersCmd.Flags().StringVar(&ordersSince, "since", "", "only orders whose status changed at or after this time")
}

func splitInstrument(s string) (symbol, mkt string, err error) {
	i := strings.LastIndex(s, ".")
	if i <= 0 || i == len(s)-1 {
		return "", "", fmt.Errorf("instrument %q: want SYMBOL.MARKET", s)
	}
	return s[:i], s[i+1:], nil
}

func runTrade(cmd *cobra.Command, args []string, action broker.Action) error {
	quant, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("quant: %w", err)
	}
	symbol, mkt, err := splitInstrument(args[1])
	if err != nil {
		return err
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

	o := broker.Order{
		OrderRef:     orderFlags.ref,
		Action:       action,
		Quant:        quant,
		OrderType:    broker.OrderType(orderFlags.orderType),
		TIF:          broker.TIF(orderFlags.tif),
		Limit:        orderFlags.limit,
		Stop:         orderFlags.stop,
		Symbol:       symbol,
		Market:       mkt,
		Currency:     orderFlags.currency,
		SecurityType: orderFlags.secType,
		Multiplier:   orderFlags.mult,
	}

	subs, err := b.Submit(cmd.Context(), o, asof)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		logger.Info("order posted",
			zap.String("ref", sub.OrderRef),
			zap.String("action", string(sub.Action)),
			zap.String("status", string(sub.Status)))
		fmt.Println(sub.OrderRef)
	}
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	asof, err := parseAsOf(asofFlag)
	if err != nil {
		return err
	}

	b, done, err := openBroker()
	if err != nil {
		return err
	}
	defer done()

	out, err := b.Cancel(cmd.Context(), args[0], asof)
	if err != nil {
		return err
	}
	for _, o := range out {
		fmt.Printf("%s %s\n", o.OrderRef, o.Status)
	}
	return nil
}

func runOCA(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read orders: %w", err)
	}
	var attached []broker.Order
	if err := json.Unmarshal(data, &attached); err != nil {
		return fmt.Errorf("parse orders: %w", err)
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

	subs, err := b.OCA(cmd.Context(), ocaGroup, attached, asof)
	if err != nil {
		return err
	}
	if len(subs) > 0 {
		fmt.Printf("group %s\n", subs[0].AttachRef)
	}
	for _, sub := range subs {
		fmt.Printf("%s %s\n", sub.OrderRef, sub.Status)
	}
	return nil
}

func runOrders(cmd *cobra.Command, args []string) error {
	asof, err := parseAsOf(asofFlag)
	if err != nil {
		return err
	}
	var since time.Time
	if ordersSince != "" {
		since, err = parseAsOf(ordersSince)
		if err != nil {
			return err
		}
	}

	b, done, err := openBroker()
	if err != nil {
		return err
	}
	defer done()

	orders, err := b.Orders(cmd.Context(), asof, since)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		fmt.Println("no orders")
		return nil
	}

	fmt.Printf("%-12s %-9s %-4s %8s %-14s %-4s %10s %10s  %s\n",
		"REF", "STATUS", "ACT", "QUANT", "INSTRUMENT", "TYPE", "LIMIT", "TRADED", "ASOF")
	for _, o := range orders {
		fmt.Printf("%-12s %-9s %-4s %8g %-14s %-4s %10g %10g  %s\n",
			o.OrderRef, o.Status, o.Action, o.Quant,
			o.Symbol+"."+o.Market, o.OrderType, o.Limit, o.TradedPrice,
			o.AsOf.Format("2006-01-02 15:04"))
	}
	return nil
}

func runPositions(cmd *cobra.Command, args []string) error {
	asof, err := parseAsOf(asofFlag)
	if err != nil {
		return err
	}

	b, done, err := openBroker()
	if err != nil {
		return err
	}
	defer done()

	poss, err := b.Positions(cmd.Context(), asof)
	if err != nil {
		return err
	}
	if len(poss) == 0 {
		fmt.Println("no positions")
		return nil
	}

	fmt.Printf("%-14s %-5s %8s %10s %10s %12s %12s  %s\n",
		"INSTRUMENT", "ACT", "POS", "TRADED", "PRICE", "MTM", "VALUE", "ASOF")
	for _, p := range poss {
		fmt.Printf("%-14s %-5s %8g %10g %10g %12s %12s  %s\n",
			p.Symbol+"."+p.Market, p.Action, p.Position, p.TradedPrice, p.Price,
			p.MTM, p.Value, p.AsOf.Format("2006-01-02 15:04"))
	}
	return nil
}
