package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/oracleadapter/internal/api"
)

var (
	priceTimestamp  int64
	fulfillDecimals uint8
	requestsState   string
	requestsLimit   int
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Bind the identifiers listed in the config",
	Long: `Apply every [[identifiers]] entry from the config to a running adapter.
Bindings that already match are skipped; the rest are added or replaced.
Requires the wallet to be the registry owner.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if len(cfg.Identifiers) == 0 {
			logger.Info("no identifiers configured; nothing to seed")
			return nil
		}
		c, err := apiClient()
		if err != nil {
			return err
		}
		entries := make([]api.AddOracleRequest, 0, len(cfg.Identifiers))
		for _, id := range cfg.Identifiers {
			entries = append(entries, api.AddOracleRequest{
				Identifier:   id.Name,
				Oracle:       id.Address,
				IsAggregator: id.IsAggregator,
				JobID:        id.JobID,
			})
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()
		res, err := c.Seed(ctx, entries)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		logger.Info("identifiers seeded",
			slog.Int("added", res.Added),
			slog.Int("skipped", res.Skipped),
		)
		return nil
	},
}

var transferCmd = &cobra.Command{
	Use:   "transfer-ownership [new-owner]",
	Short: "Hand registry ownership to a new address",
	Long: `Transfer registry ownership. Without an argument the configured
adapter.guardian_address is used; when neither is set the command does
nothing.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := cfg.Adapter.GuardianAddress
		if len(args) == 1 {
			target = args[0]
		}
		if target == "" {
			logger.Info("no guardian configured; ownership left unchanged")
			return nil
		}
		c, err := apiClient()
		if err != nil {
			return err
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()
		owner, err := c.TransferOwnership(ctx, target)
		if err != nil {
			return fmt.Errorf("transfer ownership: %w", err)
		}
		logger.Info("ownership transferred", slog.String("owner", owner))
		return printJSON(cmd, api.Owner{Owner: owner})
	},
}

var priceCmd = &cobra.Command{
	Use:   "price <identifier>",
	Short: "Read the price for an identifier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		p, err := c.GetPrice(ctx, args[0], priceTimestamp)
		if err != nil {
			return fmt.Errorf("price: %w", err)
		}
		return printJSON(cmd, p)
	},
}

var requestCmd = &cobra.Command{
	Use:   "request <identifier>",
	Short: "Request a price for an identifier at a timestamp",
	Long: `Request a price. Aggregator bindings answer immediately; job bindings
return a pending receipt whose token the node fulfills later.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		r, err := c.RequestPrice(ctx, args[0], priceTimestamp)
		if err != nil {
			return fmt.Errorf("request: %w", err)
		}
		return printJSON(cmd, r)
	},
}

var fulfillCmd = &cobra.Command{
	Use:   "fulfill <token> <price>",
	Short: "Answer a pending job request as its bound oracle",
	Long: `Fulfill a pending request. The price is a decimal number scaled by
--decimals, so "1950.5" with --decimals 8 is sent as 195050000000. The
wallet must be the oracle address the request was dispatched to.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := scaledValue(args[1], fulfillDecimals)
		if err != nil {
			return err
		}
		c, err := apiClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		r, err := c.Fulfill(ctx, args[0], api.Price{Value: value, Decimals: fulfillDecimals})
		if err != nil {
			return fmt.Errorf("fulfill: %w", err)
		}
		return printJSON(cmd, r)
	},
}

var requestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "List job requests",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		list, err := c.Requests(ctx, requestsState, "", requestsLimit)
		if err != nil {
			return fmt.Errorf("requests: %w", err)
		}
		return printJSON(cmd, api.RequestList{Requests: list})
	},
}

func init() {
	rootCmd.AddCommand(seedCmd, transferCmd, priceCmd, requestCmd, fulfillCmd, requestsCmd)

	priceCmd.Flags().Int64VarP(&priceTimestamp, "timestamp", "t", 0, "unix timestamp of the price (aggregators ignore it)")
	requestCmd.Flags().Int64VarP(&priceTimestamp, "timestamp", "t", 0, "unix timestamp")
	requestCmd.MarkFlagRequired("timestamp")
	fulfillCmd.Flags().Uint8VarP(&fulfillDecimals, "decimals", "d", 8, "decimal places of the fulfilled value")
	requestsCmd.Flags().StringVar(&requestsState, "state", "pending", "pending or fulfilled; empty lists both")
	requestsCmd.Flags().IntVar(&requestsLimit, "limit", 50, "maximum number of requests")
}

// scaledValue turns a human decimal into the integer the API expects.
func scaledValue(s string, decimals uint8) (string, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("price %q: %w", s, err)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return "", fmt.Errorf("price %q has more than %d decimal places", s, decimals)
	}
	return scaled.String(), nil
}
