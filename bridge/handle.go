package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/mbocsi/gobridge/proto"
)

// Handle registers fn for eventType with the payload decoded into T. Fields
// map through T's json tags; a payload that does not decode is reported as a
// dispatch error and fn is not called.
//
//	type PlayerInput struct {
//		Text string `json:"text"`
//	}
//	bridge.Handle(c, proto.EventPlayerInput, func(in PlayerInput) error { ... })
func Handle[T any](c *Connector, eventType string, fn func(T) error) {
	c.RegisterCallback(eventType, func(msg proto.Message) error {
		payload, err := DecodePayload[T](msg)
		if err != nil {
			return err
		}
		return fn(payload)
	})
}

// DecodePayload converts msg into T through its JSON form.
func DecodePayload[T any](msg proto.Message) (T, error) {
	var out T
	data, err := json.Marshal(msg)
	if err != nil {
		return out, fmt.Errorf("re-encode payload: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode payload into %T: %w", out, err)
	}
	return out, nil
}
