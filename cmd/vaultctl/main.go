// Package main provides vaultctl, an operator CLI for a running vault API server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/yield-vault/internal/client"
)

var (
	// Global flags
	apiURL   string
	clientID string
	timeout  time.Duration

	vc *client.Client
)

var rootCmd = &cobra.Command{
	Use:   "vaultctl",
	Short: "Operate yield vaults through the API server",
	Long: `vaultctl reads vault state and submits deposits, withdrawals, harvests
and strategy administration to a running yield-vault API server.

Every command prints the server's JSON response.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		vc = client.New(apiURL, client.WithClientID(clientID))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", envOr("VAULT_API_URL", "http://localhost:8080"), "API server base URL (or set VAULT_API_URL)")
	rootCmd.PersistentFlags().StringVar(&clientID, "client-id", "vaultctl", "Client id sent for rate limiting")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	reportsCmd.Flags().StringVar(&reportsStrategy, "strategy", "", "Only reports for this strategy")
	reportsCmd.Flags().IntVar(&reportsLimit, "limit", 0, "Maximum reports (server default when zero)")
	registerMutationFlags()

	rootCmd.AddCommand(vaultsCmd, summaryCmd, accountCmd, allocationCmd, reportsCmd, consistencyCmd, statsCmd)
	rootCmd.AddCommand(fundCmd, depositCmd, withdrawCmd, harvestCmd, shutdownCmd, depositLimitCmd)
	rootCmd.AddCommand(strategyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func address(name, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s: %q is not a hex address", name, s)
	}
	return common.HexToAddress(s), nil
}

// printJSON writes v to stdout, indented
func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var vaultsCmd = &cobra.Command{
	Use:   "vaults",
	Short: "List hosted vaults",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		ids, err := vc.Vaults(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, ids)
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary <vault>",
	Short: "Show a vault's totals and withdrawal queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultID, err := address("vault", args[0])
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		s, err := vc.Summary(ctx, vaultID)
		if err != nil {
			return err
		}
		return printJSON(cmd, s)
	},
}

var accountCmd = &cobra.Command{
	Use:   "account <vault> <account>",
	Short: "Show an account's shares and their value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultID, err := address("vault", args[0])
		if err != nil {
			return err
		}
		account, err := address("account", args[1])
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		view, err := vc.Account(ctx, vaultID, account)
		if err != nil {
			return err
		}
		return printJSON(cmd, view)
	},
}

var allocationCmd = &cobra.Command{
	Use:   "allocation <vault>",
	Short: "Show each strategy's pending credit or debit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultID, err := address("vault", args[0])
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		plan, err := vc.Allocation(ctx, vaultID)
		if err != nil {
			return err
		}
		return printJSON(cmd, plan)
	},
}

var (
	reportsStrategy string
	reportsLimit    int
)

var reportsCmd = &cobra.Command{
	Use:   "reports <vault>",
	Short: "List recent harvest reports",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultID, err := address("vault", args[0])
		if err != nil {
			return err
		}
		var strategyID *common.Address
		if reportsStrategy != "" {
			id, err := address("strategy", reportsStrategy)
			if err != nil {
				return err
			}
			strategyID = &id
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		reports, err := vc.Reports(ctx, vaultID, strategyID, reportsLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd, reports)
	},
}

var consistencyCmd = &cobra.Command{
	Use:   "consistency <vault>",
	Short: "Check a vault's ledger invariants",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultID, err := address("vault", args[0])
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		res, err := vc.Consistency(ctx, vaultID)
		if err != nil {
			return err
		}
		if err := printJSON(cmd, res); err != nil {
			return err
		}
		if !res.Consistent {
			return fmt.Errorf("vault %s is inconsistent", vaultID.Hex())
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-operation statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		stats, err := vc.Stats(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, stats)
	},
}
