package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbocsi/gobridge/discovery"
)

func discoverCmd() *cobra.Command {
	var ws, asJSON bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find a game host on the local network",
		Long:  `Query mDNS for a host announcing _gobridge._tcp (or _gobridge-ws._tcp with --websocket).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			service := discovery.ServiceTCP
			if ws {
				service = discovery.ServiceWebSocket
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			found, err := discovery.Lookup(ctx, service)
			if err != nil {
				return err
			}

			if asJSON {
				out, err := json.MarshalIndent(found, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}
			fmt.Printf("  Name:       %s\n", found.Name)
			fmt.Printf("  Address:    %s\n", found.Addr())
			fmt.Printf("  Transport:  %s\n", found.Transport)
			return nil
		},
	}

	cmd.Flags().BoolVar(&ws, "websocket", false, "Look for the WebSocket service")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", discovery.DefaultTimeout, "How long to wait for an answer")

	return cmd
}
