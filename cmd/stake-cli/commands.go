package main

import (
	"fmt"
	"strconv"

	cli "gopkg.in/urfave/cli.v1"
)

func commands() []cli.Command {
	return []cli.Command{
		{
			Name:      "stake",
			Usage:     "stake principal",
			ArgsUsage: "<amount>",
			Flags:     []cli.Flag{callerFlag},
			Action: func(ctx *cli.Context) error {
				args, err := requireArgs(ctx, "<amount>")
				if err != nil {
					return err
				}
				return invoke(ctx, "staking_stake", map[string]string{"caller": ctx.String(callerFlag.Name), "amount": args[0]})
			},
		},
		{
			Name:      "unstake",
			Usage:     "withdraw principal",
			ArgsUsage: "<amount>",
			Flags:     []cli.Flag{callerFlag},
			Action: func(ctx *cli.Context) error {
				args, err := requireArgs(ctx, "<amount>")
				if err != nil {
					return err
				}
				return invoke(ctx, "staking_unstake", map[string]string{"caller": ctx.String(callerFlag.Name), "amount": args[0]})
			},
		},
		{
			Name:  "claim",
			Usage: "claim every pending reward",
			Flags: []cli.Flag{callerFlag},
			Action: func(ctx *cli.Context) error {
				return invoke(ctx, "staking_claimReward", map[string]string{"caller": ctx.String(callerFlag.Name)})
			},
		},
		{
			Name:      "position",
			Usage:     "show the stored position of an account",
			ArgsUsage: "<address>",
			Action: func(ctx *cli.Context) error {
				args, err := requireArgs(ctx, "<address>")
				if err != nil {
					return err
				}
				return invoke(ctx, "staking_getPosition", map[string]string{"address": args[0]})
			},
		},
		{
			Name:      "preview",
			Usage:     "show what a claim would pay right now",
			ArgsUsage: "<address>",
			Action: func(ctx *cli.Context) error {
				args, err := requireArgs(ctx, "<address>")
				if err != nil {
					return err
				}
				return invoke(ctx, "staking_previewClaim", map[string]string{"address": args[0]})
			},
		},
		{
			Name:  "tokens",
			Usage: "list reward tokens and their accumulators",
			Action: func(ctx *cli.Context) error {
				return invoke(ctx, "staking_rewardTokens", nil)
			},
		},
		{
			Name:  "config",
			Usage: "show ledger parameters",
			Action: func(ctx *cli.Context) error {
				return invoke(ctx, "staking_getConfig", nil)
			},
		},
		{
			Name:      "set-fee",
			Usage:     "set the claim fee in basis points (owner only)",
			ArgsUsage: "<bps>",
			Flags:     []cli.Flag{callerFlag},
			Action: func(ctx *cli.Context) error {
				args, err := requireArgs(ctx, "<bps>")
				if err != nil {
					return err
				}
				bps, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid bps: %w", err)
				}
				return invoke(ctx, "staking_setFee", map[string]interface{}{"caller": ctx.String(callerFlag.Name), "feeBps": bps})
			},
		},
		{
			Name:      "set-treasury",
			Usage:     "set the fee recipient (owner only)",
			ArgsUsage: "<address>",
			Flags:     []cli.Flag{callerFlag},
			Action: func(ctx *cli.Context) error {
				args, err := requireArgs(ctx, "<address>")
				if err != nil {
					return err
				}
				return invoke(ctx, "staking_setTreasury", map[string]string{"caller": ctx.String(callerFlag.Name), "treasury": args[0]})
			},
		},
		{
			Name:      "transfer-ownership",
			Usage:     "hand the owner role to another account (owner only)",
			ArgsUsage: "<address>",
			Flags:     []cli.Flag{callerFlag},
			Action: func(ctx *cli.Context) error {
				args, err := requireArgs(ctx, "<address>")
				if err != nil {
					return err
				}
				return invoke(ctx, "staking_transferOwnership", map[string]string{"caller": ctx.String(callerFlag.Name), "newOwner": args[0]})
			},
		},
		{
			Name:      "set-rewards",
			Usage:     "replace the reward token set (owner only)",
			ArgsUsage: "<token,token,...> <rate,rate,...>",
			Flags:     []cli.Flag{callerFlag},
			Action: func(ctx *cli.Context) error {
				args, err := requireArgs(ctx, "<tokens>", "<rates>")
				if err != nil {
					return err
				}
				return invoke(ctx, "staking_replaceRewardConfig", map[string]interface{}{
					"caller": ctx.String(callerFlag.Name),
					"tokens": splitList(args[0]),
					"rates":  splitList(args[1]),
				})
			},
		},
		{
			Name:      "update-rates",
			Usage:     "change emission rates of the active tokens (owner only)",
			ArgsUsage: "<rate,rate,...>",
			Flags:     []cli.Flag{callerFlag},
			Action: func(ctx *cli.Context) error {
				args, err := requireArgs(ctx, "<rates>")
				if err != nil {
					return err
				}
				return invoke(ctx, "staking_updateRatePerPeriod", map[string]interface{}{
					"caller": ctx.String(callerFlag.Name),
					"rates":  splitList(args[0]),
				})
			},
		},
		{
			Name:      "mint",
			Usage:     "credit tokens to a holder (dev servers only)",
			ArgsUsage: "<token> <holder> <amount>",
			Action: func(ctx *cli.Context) error {
				args, err := requireArgs(ctx, "<token>", "<holder>", "<amount>")
				if err != nil {
					return err
				}
				return invoke(ctx, "bank_mint", map[string]string{"token": args[0], "holder": args[1], "amount": args[2]})
			},
		},
		{
			Name:      "balance",
			Usage:     "show a token balance",
			ArgsUsage: "<token> <holder>",
			Action: func(ctx *cli.Context) error {
				args, err := requireArgs(ctx, "<token>", "<holder>")
				if err != nil {
					return err
				}
				return invoke(ctx, "bank_balanceOf", map[string]string{"token": args[0], "holder": args[1]})
			},
		},
		{
			Name:  "events",
			Usage: "list indexed ledger events",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "type", Usage: "event type filter"},
				cli.StringFlag{Name: "account", Usage: "account filter"},
				cli.StringFlag{Name: "reward-token", Usage: "reward token filter"},
				cli.Uint64Flag{Name: "after", Usage: "only events after this sequence"},
				cli.IntFlag{Name: "limit", Usage: "maximum number of events"},
			},
			Action: func(ctx *cli.Context) error {
				return invoke(ctx, "staking_listEvents", map[string]interface{}{
					"type":    ctx.String("type"),
					"account": ctx.String("account"),
					"token":   ctx.String("reward-token"),
					"after":   ctx.Uint64("after"),
					"limit":   ctx.Int("limit"),
				})
			},
		},
	}
}
