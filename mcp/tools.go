package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *MCPServer) registerBridgeTools() {
	statusTool := mcp.NewTool("bridge_status",
		mcp.WithDescription("Get the bridge connection state, host address and registered event types"),
	)
	s.Server.AddTool(statusTool, s.handleStatus)

	rpcTool := mcp.NewTool("call_rpc",
		mcp.WithDescription("Call a function on the game host. Fire-and-forget: no result is returned"),
		mcp.WithString("function",
			mcp.Required(),
			mcp.Description("Name of the host function"),
		),
		mcp.WithArray("args",
			mcp.Description("Positional arguments, passed as a JSON array"),
		),
	)
	s.Server.AddTool(rpcTool, s.handleCallRPC)

	sendTool := mcp.NewTool("send_event",
		mcp.WithDescription("Send a raw event message to the game host"),
		mcp.WithString("type",
			mcp.Required(),
			mcp.Description("Event type"),
		),
		mcp.WithObject("fields",
			mcp.Description("Additional message fields"),
		),
	)
	s.Server.AddTool(sendTool, s.handleSendEvent)
}

func (s *MCPServer) registerAvatarTools() {
	animTool := mcp.NewTool("play_animation",
		mcp.WithDescription("Play an animation on the character"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Animation name"),
		),
		mcp.WithNumber("blend",
			mcp.Description("Cross-fade time in seconds"),
		),
	)
	s.Server.AddTool(animTool, s.handlePlayAnimation)

	exprTool := mcp.NewTool("set_expression",
		mcp.WithDescription("Set a facial expression blend shape on the character"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Blend shape name"),
		),
		mcp.WithNumber("value",
			mcp.Required(),
			mcp.Description("Weight between 0 and 1"),
		),
	)
	s.Server.AddTool(exprTool, s.handleSetExpression)
}

func (s *MCPServer) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(s.bridge.Status(), "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal status: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *MCPServer) handleCallRPC(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	function, err := request.RequireString("function")
	if err != nil {
		return mcp.NewToolResultError("function is required and must be a string"), nil
	}

	var args []any
	if raw, ok := request.GetRawArguments().(map[string]any); ok {
		if v, exists := raw["args"]; exists && v != nil {
			list, ok := v.([]any)
			if !ok {
				return mcp.NewToolResultError("args must be an array"), nil
			}
			args = list
		}
	}

	if err := s.bridge.RPC(ctx, function, args...); err != nil {
		s.logger.Warn("MCP rpc failed", "function", function, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("Failed to call %s: %v", function, err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("RPC %s sent with %d args", function, len(args))), nil
}

func (s *MCPServer) handleSendEvent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	eventType, err := request.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError("type is required and must be a string"), nil
	}

	msg := map[string]any{}
	if raw, ok := request.GetRawArguments().(map[string]any); ok {
		if v, exists := raw["fields"]; exists && v != nil {
			fields, ok := v.(map[string]any)
			if !ok {
				return mcp.NewToolResultError("fields must be an object"), nil
			}
			for k, fv := range fields {
				msg[k] = fv
			}
		}
	}
	msg["type"] = eventType

	if err := s.bridge.Send(ctx, msg); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to send %s: %v", eventType, err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Event %s sent", eventType)), nil
}

func (s *MCPServer) handlePlayAnimation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required and must be a string"), nil
	}
	blend := request.GetFloat("blend", 0)

	if err := s.avatar.PlayAnimation(ctx, name, blend); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to play animation %s: %v", name, err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Playing animation %s", name)), nil
}

func (s *MCPServer) handleSetExpression(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required and must be a string"), nil
	}
	value, err := request.RequireFloat("value")
	if err != nil {
		return mcp.NewToolResultError("value is required and must be a number"), nil
	}

	if err := s.avatar.SetExpression(ctx, name, value); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to set expression %s: %v", name, err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Expression %s set to %v", name, value)), nil
}
