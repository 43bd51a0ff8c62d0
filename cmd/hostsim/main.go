package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mbocsi/gobridge/config"
	"github.com/mbocsi/gobridge/discovery"
	"github.com/mbocsi/gobridge/hostsim"
	"github.com/mbocsi/gobridge/proto"
)

type simHost interface {
	Start() error
	Shutdown() error
	Addr() string
	Received() <-chan proto.Message
	Send(msg proto.Message) error
	AnswerCalls(results hostsim.Results)
}

func main() {
	var addr, transportName, logLevel, instance string
	var announce bool

	rootCmd := &cobra.Command{
		Use:   "hostsim",
		Short: "Simulated game host for the bridge",
		Long: `hostsim listens like a game host, prints every message the bridge
sends and turns each line typed on stdin into a message for the bridge.

A line holding a JSON object is sent as is; any other line is sent as
{"type":"player_input","text":<line>}.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Defaults()
			cfg.LogLevel = logLevel
			config.SetupLogger(cfg, os.Stderr)

			var h simHost
			service := discovery.ServiceTCP
			switch transportName {
			case "tcp":
				h = hostsim.NewTCPHost(addr)
			case "websocket", "ws":
				h = hostsim.NewWSHost(addr)
				service = discovery.ServiceWebSocket
			default:
				return fmt.Errorf("unknown transport %q", transportName)
			}
			h.AnswerCalls(hostsim.Results{
				"get_animation_list":  []any{"idle", "wave", "nod"},
				"get_blendshape_list": []any{"happy", "sad", "surprised"},
			})

			if err := h.Start(); err != nil {
				return err
			}
			defer h.Shutdown()

			if announce {
				_, portStr, _ := net.SplitHostPort(h.Addr())
				port, _ := strconv.Atoi(portStr)
				a, err := discovery.Announce(instance, service, port)
				if err != nil {
					return err
				}
				defer a.Shutdown()
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go printReceived(ctx, h)
			go readStdin(h)

			<-ctx.Done()
			slog.Info("Shutting down host")
			return nil
		},
	}

	rootCmd.Flags().StringVarP(&addr, "addr", "a", "127.0.0.1:9000", "Listen address")
	rootCmd.Flags().StringVarP(&transportName, "transport", "t", "tcp", "tcp or websocket")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	rootCmd.Flags().BoolVar(&announce, "announce", false, "Announce the host over mDNS")
	rootCmd.Flags().StringVar(&instance, "instance", "", "mDNS instance name (defaults to the hostname)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func printReceived(ctx context.Context, h simHost) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-h.Received():
			out, _ := json.Marshal(msg)
			fmt.Println(string(out))
		}
	}
}

func readStdin(h simHost) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := h.Send(lineToMessage(line)); err != nil {
			slog.Warn("Could not send to bridge", "error", err)
		}
	}
}

func lineToMessage(line string) proto.Message {
	var msg proto.Message
	if err := json.Unmarshal([]byte(line), &msg); err == nil && msg != nil {
		return msg
	}
	return proto.NewEvent(proto.EventPlayerInput, map[string]any{"text": line})
}
