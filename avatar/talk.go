package avatar

import (
	"context"
	"time"

	"github.com/mbocsi/gobridge/bridge"
	"github.com/mbocsi/gobridge/proto"
)

// Responder turns player text into the character's reply.
type Responder func(ctx context.Context, input string) (string, error)

// Echo repeats the player's text.
func Echo(_ context.Context, input string) (string, error) {
	return input, nil
}

// Registrar is the callback side of *bridge.Connector.
type Registrar interface {
	RegisterShaped(eventType string, shape proto.Shape, h bridge.Handler) error
}

const replyTimeout = 30 * time.Second

// Listen answers every player_input event with respond and speaks the
// reply. Empty replies are not spoken.
func (a *Avatar) Listen(r Registrar, respond Responder) error {
	return r.RegisterShaped(proto.EventPlayerInput, proto.PlayerInputShape, func(msg proto.Message) error {
		ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
		defer cancel()

		input := msg.String("text")
		a.logger.Info("Player input", "text", input)
		reply, err := respond(ctx, input)
		if err != nil {
			return err
		}
		if reply == "" {
			return nil
		}
		return a.Say(ctx, reply)
	})
}
