// Package avatar drives a VRM character node in the host scene through
// bridge RPCs.
package avatar

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mbocsi/gobridge/proto"
)

// RPC function names understood by the host's avatar script.
const (
	FuncPlayAnimation  = "play_animation"
	FuncSetExpression  = "set_expression"
	FuncAnimationList  = "get_animation_list"
	FuncBlendshapeList = "get_blendshape_list"
	FuncCharacterSpoke = proto.EventCharacterSpoke
)

const DefaultNodePath = "/root/Main/Avatar"

// RPCer sends fire-and-forget RPCs. *bridge.Connector implements it.
type RPCer interface {
	RPC(ctx context.Context, function string, args ...any) error
}

// Caller makes correlated calls. *rpccall.Caller implements it.
type Caller interface {
	CallStrings(ctx context.Context, function string, args ...any) ([]string, error)
}

// Avatar addresses one character node. Queries need a Caller; without one
// they return an empty list.
type Avatar struct {
	Name     string
	NodePath string

	rpc    RPCer
	caller Caller
	logger *slog.Logger

	mu    sync.Mutex
	state map[string]any
}

func New(name, nodePath string, rpc RPCer, caller Caller, logger *slog.Logger) *Avatar {
	if nodePath == "" {
		nodePath = DefaultNodePath
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Avatar{
		Name:     name,
		NodePath: nodePath,
		rpc:      rpc,
		caller:   caller,
		logger:   logger.With("avatar", name, "node", nodePath),
		state:    make(map[string]any),
	}
}

// PlayAnimation starts an animation, cross-fading over blend seconds.
func (a *Avatar) PlayAnimation(ctx context.Context, name string, blend float64) error {
	if name == "" {
		return fmt.Errorf("animation name is required")
	}
	if blend < 0 {
		return fmt.Errorf("blend time %v must not be negative", blend)
	}
	if err := a.rpc.RPC(ctx, FuncPlayAnimation, a.NodePath, name, blend); err != nil {
		a.logger.Warn("Failed to play animation", "animation", name, "error", err.Error())
		return err
	}
	return nil
}

// SetExpression sets a blend shape weight in [0, 1].
func (a *Avatar) SetExpression(ctx context.Context, name string, value float64) error {
	if name == "" {
		return fmt.Errorf("expression name is required")
	}
	if value < 0 || value > 1 {
		return fmt.Errorf("expression value %v outside [0, 1]", value)
	}
	if err := a.rpc.RPC(ctx, FuncSetExpression, a.NodePath, name, value); err != nil {
		a.logger.Warn("Failed to set expression", "expression", name, "error", err.Error())
		return err
	}
	return nil
}

// PerformAction sends an arbitrary RPC on the character's behalf.
func (a *Avatar) PerformAction(ctx context.Context, action string, args ...any) error {
	if action == "" {
		return fmt.Errorf("action is required")
	}
	return a.rpc.RPC(ctx, action, args...)
}

// Say tells the host the character spoke text.
func (a *Avatar) Say(ctx context.Context, text string) error {
	return a.rpc.RPC(ctx, FuncCharacterSpoke, a.NodePath, text)
}

// AnimationList asks the host for the node's animations. Failures are
// logged and yield an empty list. Like rpccall.Caller.Call it must not
// block a bridge handler; call it from its own goroutine there.
func (a *Avatar) AnimationList(ctx context.Context) []string {
	return a.list(ctx, FuncAnimationList)
}

// BlendshapeList asks the host for the node's blend shapes. See
// AnimationList for use from handlers.
func (a *Avatar) BlendshapeList(ctx context.Context) []string {
	return a.list(ctx, FuncBlendshapeList)
}

func (a *Avatar) list(ctx context.Context, function string) []string {
	if a.caller == nil {
		return []string{}
	}
	names, err := a.caller.CallStrings(ctx, function, a.NodePath)
	if err != nil {
		a.logger.Warn("Failed to query host", "function", function, "error", err.Error())
		return []string{}
	}
	return names
}

// UpdateState merges updates into the character's local state.
func (a *Avatar) UpdateState(updates map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, v := range updates {
		a.state[k] = v
	}
}

// State returns a copy of the character's local state.
func (a *Avatar) State() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]any, len(a.state))
	for k, v := range a.state {
		out[k] = v
	}
	return out
}
