package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbocsi/gobridge/bridge"
	"github.com/mbocsi/gobridge/config"
	"github.com/mbocsi/gobridge/rpccall"
	"github.com/mbocsi/gobridge/transport"
)

func rpcCmd() *cobra.Command {
	var flags connFlags
	var wait bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "rpc <function> [json-arg...]",
		Short: "Send one RPC to the host",
		Long: `Connect, send a single RPC and disconnect.

Each argument is parsed as JSON when possible and sent as a string
otherwise. With --wait the command waits for an rpc_result and prints it.

Examples:
  bridge rpc wave
  bridge rpc play_animation '"/root/Avatar"' '"wave"' 0.5
  bridge rpc get_animation_list /root/Avatar --wait`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			logger := config.SetupLogger(cfg, os.Stderr)

			t, err := transport.New(cfg.Transport, cfg.Endpoint(), cfg.DialTimeout)
			if err != nil {
				return err
			}
			c := bridge.New(t, bridge.WithLogger(logger), bridge.WithDialTimeout(cfg.DialTimeout))

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			var caller *rpccall.Caller
			if wait {
				caller = rpccall.New(c, timeout, logger)
				defer caller.Close()
			}
			if err := c.Connect(ctx); err != nil {
				return err
			}
			defer c.Disconnect()

			function, callArgs := args[0], parseArgs(args[1:])
			if caller == nil {
				if err := c.RPC(ctx, function, callArgs...); err != nil {
					return err
				}
				fmt.Printf("sent %s\n", function)
				return nil
			}

			result, err := caller.Call(ctx, function, callArgs...)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the host's rpc_result")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Overall timeout")

	return cmd
}

func parseArgs(raw []string) []any {
	args := make([]any, 0, len(raw))
	for _, r := range raw {
		var v any
		if err := json.Unmarshal([]byte(r), &v); err != nil {
			v = r
		}
		args = append(args, v)
	}
	return args
}
