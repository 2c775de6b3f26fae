// stake-cli talks to a stakingd JSON-RPC endpoint.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	cli "gopkg.in/urfave/cli.v1"

	"stakeledger/rpc"
)

var (
	rpcFlag = cli.StringFlag{
		Name:   "rpc",
		Value:  "http://127.0.0.1:8545",
		EnvVar: "STAKE_RPC_URL",
		Usage:  "stakingd JSON-RPC endpoint",
	}
	tokenFlag = cli.StringFlag{
		Name:   "token",
		EnvVar: "STAKE_RPC_TOKEN",
		Usage:  "bearer token sent with mutating calls",
	}
	callerFlag = cli.StringFlag{
		Name:  "caller",
		Usage: "account to act as when the server runs without auth",
	}
	timeoutFlag = cli.DurationFlag{
		Name:  "timeout",
		Value: 30 * time.Second,
		Usage: "request timeout",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "stake-cli"
	app.Usage = "inspect and operate a staking reward ledger"
	app.Flags = []cli.Flag{rpcFlag, tokenFlag, timeoutFlag}
	app.Commands = commands()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// invoke calls method and pretty-prints the result.
func invoke(ctx *cli.Context, method string, params interface{}) error {
	client := rpc.NewClient(ctx.GlobalString(rpcFlag.Name), ctx.GlobalString(tokenFlag.Name))
	reqCtx, cancel := context.WithTimeout(context.Background(), ctx.GlobalDuration(timeoutFlag.Name))
	defer cancel()
	var result json.RawMessage
	if err := client.Call(reqCtx, method, params, &result); err != nil {
		return err
	}
	return printJSON(result)
}

func printJSON(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	out, err := json.MarshalIndent(decoded, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func requireArgs(ctx *cli.Context, names ...string) ([]string, error) {
	if ctx.NArg() != len(names) {
		return nil, fmt.Errorf("usage: %s %s", ctx.Command.Name, strings.Join(names, " "))
	}
	args := make([]string, len(names))
	for i := range names {
		args[i] = strings.TrimSpace(ctx.Args().Get(i))
	}
	return args, nil
}

// splitList parses a comma separated argument, dropping empty entries.
func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
