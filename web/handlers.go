package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mbocsi/gobridge/bridge"
	"github.com/mbocsi/gobridge/proto"
	"github.com/mbocsi/gobridge/rpccall"
)

const requestTimeout = 10 * time.Second

// errBadRequest marks input errors for handleError.
var errBadRequest = errors.New("bad request")

func (s *Server) HandleHome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.pages.RenderStatus(w, s.bridge.Status()); err != nil {
		s.logger.Error("Template error", "error", err, "page", "status")
	}
}

func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.Status())
}

func (s *Server) HandleRPC(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Function string `json:"function"`
		Args     []any  `json:"args"`
		Wait     bool   `json:"wait"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.handleError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if req.Function == "" {
		s.handleError(w, fmt.Errorf("%w: function is required", errBadRequest))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if req.Wait {
		if s.caller == nil {
			s.handleError(w, fmt.Errorf("%w: correlated calls are not enabled", errBadRequest))
			return
		}
		result, err := s.caller.Call(ctx, req.Function, req.Args...)
		if err != nil {
			s.handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"function": req.Function, "result": result})
		return
	}

	if err := s.bridge.RPC(ctx, req.Function, req.Args...); err != nil {
		s.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(w, "RPC %s sent", req.Function)
}

func (s *Server) HandleSend(w http.ResponseWriter, r *http.Request) {
	var msg proto.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		s.handleError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if msg == nil || msg.Type() == "" {
		s.handleError(w, fmt.Errorf("%w: message must have a type", errBadRequest))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := s.bridge.Send(ctx, msg); err != nil {
		s.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(w, "Message %s sent", msg.Type())
}

func (s *Server) handleError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var timeout *rpccall.TimeoutError
	var remote *rpccall.RemoteError
	var transportErr *bridge.TransportError
	switch {
	case errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, bridge.ErrNotConnected):
		status = http.StatusConflict
	case errors.As(err, &timeout):
		status = http.StatusGatewayTimeout
	case errors.As(err, &remote), errors.As(err, &transportErr):
		status = http.StatusBadGateway
	}

	if status >= 500 {
		s.logger.Error("Request failed", "error", err)
	} else {
		s.logger.Warn("Request rejected", "error", err)
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
