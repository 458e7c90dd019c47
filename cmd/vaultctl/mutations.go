package main

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/yield-vault/internal/api"
	"github.com/yield-vault/internal/types"
)

var (
	withdrawShares    string
	withdrawRecipient string
	withdrawMaxLoss   int64

	strategyKind     string
	strategyEndpoint string
	strategyRatio    uint64
	strategyMinDebt  string
	strategyMaxDebt  string
	strategyFee      uint64

	simulateEarn string
	simulateLose string
)

func registerMutationFlags() {
	withdrawCmd.Flags().StringVar(&withdrawShares, "shares", "", "Shares to redeem (whole balance when empty)")
	withdrawCmd.Flags().StringVar(&withdrawRecipient, "recipient", "", "Receiver of the assets (the owner when empty)")
	withdrawCmd.Flags().Int64Var(&withdrawMaxLoss, "max-loss-bps", -1, "Tolerated loss in basis points (server default when negative)")

	strategyAddCmd.Flags().StringVar(&strategyKind, "kind", string(types.KindSimulated), "Strategy kind: simulated or remote")
	strategyAddCmd.Flags().StringVar(&strategyEndpoint, "endpoint", "", "Base URL of a remote strategy unit")
	strategyAddCmd.Flags().Uint64Var(&strategyRatio, "debt-ratio", 0, "Target share of total assets in basis points")
	strategyAddCmd.Flags().StringVar(&strategyMinDebt, "min-debt", "", "Minimum credit per harvest")
	strategyAddCmd.Flags().StringVar(&strategyMaxDebt, "max-debt", "", "Maximum credit per harvest")
	strategyAddCmd.Flags().Uint64Var(&strategyFee, "performance-fee", 0, "Strategist fee on gains in basis points")

	strategyMigrateCmd.Flags().StringVar(&strategyKind, "kind", string(types.KindSimulated), "Kind of the new unit")
	strategyMigrateCmd.Flags().StringVar(&strategyEndpoint, "endpoint", "", "Base URL of a remote replacement unit")

	strategySimulateCmd.Flags().StringVar(&simulateEarn, "earn", "", "Gain to add to the position")
	strategySimulateCmd.Flags().StringVar(&simulateLose, "lose", "", "Loss to take from the position")

	strategyCmd.AddCommand(strategyShowCmd, strategyAddCmd, strategyRatioCmd, strategyRevokeCmd,
		strategyExitCmd, strategyRemoveCmd, strategyMigrateCmd, strategySimulateCmd)
}

var fundCmd = &cobra.Command{
	Use:   "fund <account> <amount>",
	Short: "Credit an account with test assets",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		account, err := address("account", args[0])
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		if err := vc.Fund(ctx, account, args[1]); err != nil {
			return err
		}
		return printJSON(cmd, map[string]string{"account": account.Hex(), "funded": args[1]})
	},
}

var depositCmd = &cobra.Command{
	Use:   "deposit <vault> <account> <amount>",
	Short: "Deposit assets and mint shares",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultID, err := address("vault", args[0])
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		res, err := vc.Deposit(ctx, vaultID, api.DepositRequest{Account: args[1], Amount: args[2]})
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

var withdrawCmd = &cobra.Command{
	Use:   "withdraw <vault> <account>",
	Short: "Redeem shares for assets",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultID, err := address("vault", args[0])
		if err != nil {
			return err
		}
		req := api.WithdrawRequest{Account: args[1], Shares: withdrawShares, Recipient: withdrawRecipient}
		if withdrawMaxLoss >= 0 {
			bps := uint64(withdrawMaxLoss)
			req.MaxLossBPS = &bps
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		res, err := vc.Withdraw(ctx, vaultID, req)
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

var harvestCmd = &cobra.Command{
	Use:   "harvest <vault> <strategy>",
	Short: "Settle one strategy's gain, loss and debt",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultID, err := address("vault", args[0])
		if err != nil {
			return err
		}
		strategyID, err := address("strategy", args[1])
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		report, err := vc.Harvest(ctx, vaultID, strategyID)
		if err != nil {
			return err
		}
		return printJSON(cmd, report)
	},
}

var shutdownCmd = &cobra.Command{
	Use:       "shutdown <vault> on|off",
	Short:     "Toggle emergency shutdown",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultID, err := address("vault", args[0])
		if err != nil {
			return err
		}
		var active bool
		switch args[1] {
		case "on":
			active = true
		case "off":
		default:
			return fmt.Errorf("expected on or off, got %q", args[1])
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		s, err := vc.SetShutdown(ctx, vaultID, active)
		if err != nil {
			return err
		}
		return printJSON(cmd, s)
	},
}

var depositLimitCmd = &cobra.Command{
	Use:   "deposit-limit <vault> <limit>",
	Short: "Cap the vault's total assets",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultID, err := address("vault", args[0])
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		s, err := vc.SetDepositLimit(ctx, vaultID, args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd, s)
	},
}

// strategyCmd groups strategy administration
var strategyCmd = &cobra.Command{
	Use:   "strategy",
	Short: "Administer a vault's strategies",
}

// strategyAction runs fn against the <vault> <strategy> pair in args and prints
// the returned strategy handle
func strategyAction(fn func(cmd *cobra.Command, vaultID, strategyID common.Address, rest []string) (interface{}, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		vaultID, err := address("vault", args[0])
		if err != nil {
			return err
		}
		strategyID, err := address("strategy", args[1])
		if err != nil {
			return err
		}
		out, err := fn(cmd, vaultID, strategyID, args[2:])
		if err != nil {
			return err
		}
		if out == nil {
			return nil
		}
		return printJSON(cmd, out)
	}
}

var strategyShowCmd = &cobra.Command{
	Use:   "show <vault> <strategy>",
	Short: "Show a strategy handle",
	Args:  cobra.ExactArgs(2),
	RunE: strategyAction(func(cmd *cobra.Command, vaultID, strategyID common.Address, _ []string) (interface{}, error) {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return vc.Strategy(ctx, vaultID, strategyID)
	}),
}

var strategyAddCmd = &cobra.Command{
	Use:   "add <vault> <strategy>",
	Short: "Attach a new strategy",
	Args:  cobra.ExactArgs(2),
	RunE: strategyAction(func(cmd *cobra.Command, vaultID, strategyID common.Address, _ []string) (interface{}, error) {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return vc.AddStrategy(ctx, vaultID, api.StrategyRequest{
			ID:                strategyID.Hex(),
			Kind:              types.StrategyKind(strategyKind),
			Endpoint:          strategyEndpoint,
			DebtRatio:         strategyRatio,
			MinDebtPerHarvest: strategyMinDebt,
			MaxDebtPerHarvest: strategyMaxDebt,
			PerformanceFee:    strategyFee,
		})
	}),
}

var strategyRatioCmd = &cobra.Command{
	Use:   "debt-ratio <vault> <strategy> <bps>",
	Short: "Change a strategy's target share",
	Args:  cobra.ExactArgs(3),
	RunE: strategyAction(func(cmd *cobra.Command, vaultID, strategyID common.Address, rest []string) (interface{}, error) {
		bps, err := strconv.ParseUint(rest[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bps: %w", err)
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return vc.UpdateDebtRatio(ctx, vaultID, strategyID, bps)
	}),
}

var strategyRevokeCmd = &cobra.Command{
	Use:   "revoke <vault> <strategy>",
	Short: "Zero a strategy's debt ratio so its next harvest repays everything",
	Args:  cobra.ExactArgs(2),
	RunE: strategyAction(func(cmd *cobra.Command, vaultID, strategyID common.Address, _ []string) (interface{}, error) {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return vc.Revoke(ctx, vaultID, strategyID)
	}),
}

var strategyExitCmd = &cobra.Command{
	Use:   "emergency-exit <vault> <strategy>",
	Short: "Divest a strategy completely on its next harvest",
	Args:  cobra.ExactArgs(2),
	RunE: strategyAction(func(cmd *cobra.Command, vaultID, strategyID common.Address, _ []string) (interface{}, error) {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return vc.EmergencyExit(ctx, vaultID, strategyID)
	}),
}

var strategyRemoveCmd = &cobra.Command{
	Use:   "remove <vault> <strategy>",
	Short: "Drop a repaid strategy from the withdrawal queue",
	Args:  cobra.ExactArgs(2),
	RunE: strategyAction(func(cmd *cobra.Command, vaultID, strategyID common.Address, _ []string) (interface{}, error) {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return nil, vc.RemoveStrategy(ctx, vaultID, strategyID)
	}),
}

var strategyMigrateCmd = &cobra.Command{
	Use:   "migrate <vault> <strategy> <new-strategy>",
	Short: "Move a strategy's position and debt to a new unit",
	Args:  cobra.ExactArgs(3),
	RunE: strategyAction(func(cmd *cobra.Command, vaultID, strategyID common.Address, rest []string) (interface{}, error) {
		if _, err := address("new-strategy", rest[0]); err != nil {
			return nil, err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return vc.Migrate(ctx, vaultID, strategyID, api.MigrateRequest{
			NewStrategy: rest[0],
			Kind:        types.StrategyKind(strategyKind),
			Endpoint:    strategyEndpoint,
		})
	}),
}

var strategySimulateCmd = &cobra.Command{
	Use:   "simulate <vault> <strategy>",
	Short: "Move a simulated strategy's position",
	Args:  cobra.ExactArgs(2),
	RunE: strategyAction(func(cmd *cobra.Command, vaultID, strategyID common.Address, _ []string) (interface{}, error) {
		if simulateEarn == "" && simulateLose == "" {
			return nil, fmt.Errorf("one of --earn or --lose is required")
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return vc.Simulate(ctx, vaultID, strategyID, api.SimulateRequest{Earn: simulateEarn, Lose: simulateLose})
	}),
}
