package proto

import "fmt"

// Event types exchanged with the game host.
const (
	TypeRPC       = "rpc"        // outbound function invocation
	TypeRPCResult = "rpc_result" // inbound reply to a correlated rpc

	EventPlayerInput    = "player_input"    // player submitted text
	EventCharacterSpoke = "character_spoke" // character produced a line
)

// Message is one structured value on the wire. Values are JSON values:
// string, float64, bool, nil, []any and map[string]any.
type Message map[string]any

// Type returns the "type" field, or "" when it is missing or not a string.
func (m Message) Type() string {
	t, _ := m["type"].(string)
	return t
}

// String returns the string field key, or "" when absent.
func (m Message) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Clone returns a shallow copy so callers can add fields without touching m.
func (m Message) Clone() Message {
	out := make(Message, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// NewEvent builds an event message of the given type with extra payload fields.
func NewEvent(eventType string, fields map[string]any) Message {
	msg := make(Message, len(fields)+1)
	for k, v := range fields {
		msg[k] = v
	}
	msg["type"] = eventType
	return msg
}

// NewRPC builds {"type":"rpc","function":function,"args":[...]}. Args is
// never nil so it always encodes as a JSON array.
func NewRPC(function string, args ...any) Message {
	if args == nil {
		args = []any{}
	}
	return Message{
		"type":     TypeRPC,
		"function": function,
		"args":     args,
	}
}

// RPCFunction returns the function name of an rpc message.
func RPCFunction(m Message) (string, error) {
	if m.Type() != TypeRPC {
		return "", fmt.Errorf("message type %q is not %q", m.Type(), TypeRPC)
	}
	fn, ok := m["function"].(string)
	if !ok || fn == "" {
		return "", fmt.Errorf("rpc message has no function name")
	}
	return fn, nil
}
