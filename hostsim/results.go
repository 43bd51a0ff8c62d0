package hostsim

import (
	"log/slog"

	"github.com/mbocsi/gobridge/proto"
)

// Results answers correlated RPCs. Keys are function names; a value that is
// an error is sent back as the result's "error".
type Results map[string]any

// AnswerCalls replies to every inbound RPC carrying an "id" with an
// rpc_result from results. Unknown functions get an error result. It
// replaces any OnMessage callback.
func (h *Host) AnswerCalls(results Results) {
	h.OnMessage(func(msg proto.Message) {
		if msg.Type() != proto.TypeRPC {
			return
		}
		id := msg.String("id")
		if id == "" {
			return
		}
		function, _ := proto.RPCFunction(msg)

		reply := proto.Message{"type": proto.TypeRPCResult, "id": id}
		v, ok := results[function]
		if !ok {
			reply["error"] = "unknown function " + function
		} else if err, isErr := v.(error); isErr {
			reply["error"] = err.Error()
		} else {
			reply["result"] = v
		}
		if err := h.Send(reply); err != nil {
			slog.Warn("Could not answer call", "function", function, "error", err)
		}
	})
}
