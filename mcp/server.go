// Package mcp exposes a running bridge to MCP clients over stdio, so an
// agent can inspect the connection and drive the host.
package mcp

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbocsi/gobridge/bridge"
	"github.com/mbocsi/gobridge/proto"
)

// Bridge is the part of *bridge.Connector the tools drive.
type Bridge interface {
	Status() bridge.Status
	Send(ctx context.Context, msg proto.Message) error
	RPC(ctx context.Context, function string, args ...any) error
}

// Avatar is the part of *avatar.Avatar the character tools drive.
type Avatar interface {
	PlayAnimation(ctx context.Context, name string, blend float64) error
	SetExpression(ctx context.Context, name string, value float64) error
}

type MCPServer struct {
	Server *server.MCPServer

	bridge Bridge
	avatar Avatar
	logger *slog.Logger
}

// NewMCPServer registers the bridge tools. The character tools are only
// registered when av is non-nil.
func NewMCPServer(b Bridge, av Avatar, version string, logger *slog.Logger) *MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MCPServer{
		Server: server.NewMCPServer("gobridge", version),
		bridge: b,
		avatar: av,
		logger: logger,
	}
	s.registerBridgeTools()
	if av != nil {
		s.registerAvatarTools()
	}
	return s
}

// Start serves MCP on stdin/stdout until the client goes away.
func (s *MCPServer) Start() error {
	s.logger.Info("Started stdio MCP server")
	defer func() {
		s.logger.Info("Shut down stdio MCP server")
	}()
	return server.ServeStdio(s.Server)
}
