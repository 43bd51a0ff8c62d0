package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mbocsi/gobridge/app"
	"github.com/mbocsi/gobridge/avatar"
	"github.com/mbocsi/gobridge/config"
)

func runCmd() *cobra.Command {
	var flags connFlags
	var httpAddr, avatarNode string
	var mcpStdio, discover, reconnect, echo bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the host and serve until interrupted",
		Long: `Connect to the game host and keep the connection until SIGINT or SIGTERM.

Optional surfaces:
  --http      status page, /status, /rpc, /send and /metrics
  --mcp       MCP tools on stdin/stdout (logs go to stderr)
  --avatar    drive a VRM character node; with --echo it repeats player input

Examples:
  bridge run --host 127.0.0.1 --port 9000
  bridge run --transport websocket --http :8080
  bridge run --discover --mcp --avatar /root/Main/Avatar`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("http") {
				cfg.HTTPAddr = httpAddr
			}
			if cmd.Flags().Changed("avatar") {
				cfg.AvatarNode = avatarNode
			}
			cfg.MCP = cfg.MCP || mcpStdio
			cfg.Discover = cfg.Discover || discover
			cfg.Reconnect = cfg.Reconnect || reconnect

			logger := config.SetupLogger(cfg, os.Stderr)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var respond avatar.Responder
			if echo {
				respond = avatar.Echo
			}
			a, err := app.New(ctx, cfg, version, respond, logger)
			if err != nil {
				return err
			}
			return a.Start(ctx)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&httpAddr, "http", "", "Serve the HTTP control surface on this address")
	cmd.Flags().StringVar(&avatarNode, "avatar", "", "Scene path of the VRM character node")
	cmd.Flags().BoolVar(&mcpStdio, "mcp", false, "Serve MCP tools over stdio")
	cmd.Flags().BoolVar(&discover, "discover", false, "Find the host over mDNS")
	cmd.Flags().BoolVar(&reconnect, "reconnect", false, "Reconnect when the host drops the connection")
	cmd.Flags().BoolVar(&echo, "echo", false, "Answer player input by repeating it")

	return cmd
}
