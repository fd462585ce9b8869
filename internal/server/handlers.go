package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/muurk/wemo/internal/device"
	"github.com/muurk/wemo/internal/logging"
	"github.com/muurk/wemo/internal/subscription"
	"github.com/muurk/wemo/internal/wemo"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("Failed to write response", zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":            "ok",
		"devices":           s.deps.Fleet.Len(),
		"websocket_clients": s.hub.ClientCount(),
	}
	if s.deps.Subscriptions != nil {
		body["subscriptions_running"] = s.deps.Subscriptions.Running()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Fleet.Statuses())
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	st, ok := s.deps.Fleet.Status(r.PathValue("key"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{"unknown device"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Subscriptions == nil {
		writeJSON(w, http.StatusOK, []subscription.Info{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Subscriptions.Snapshot())
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	sw, ok := s.deps.Fleet.Get(key)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{"unknown device"})
		return
	}

	var op device.Op
	switch r.PathValue("command") {
	case "on":
		op = pick(s.config.Retry, (*device.Switch).TurnOn, (*device.Switch).TurnOnWithRetry)
	case "off":
		op = pick(s.config.Retry, (*device.Switch).TurnOff, (*device.Switch).TurnOffWithRetry)
	case "toggle":
		op = pick(s.config.Retry, (*device.Switch).Toggle, (*device.Switch).ToggleWithRetry)
	case "state":
		op = pick(s.config.Retry, (*device.Switch).GetState, (*device.Switch).GetStateWithRetry)
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{"command must be on, off, toggle or state"})
		return
	}

	state, err := op(sw, r.Context(), s.config.ControlTimeout)
	s.deps.Fleet.Record(key, state, err)
	if err != nil {
		status := http.StatusBadGateway
		if wemo.IsTimeout(err) {
			status = http.StatusGatewayTimeout
		}
		writeJSON(w, status, errorBody{err.Error()})
		return
	}

	st, _ := s.deps.Fleet.Status(device.Key(sw))
	writeJSON(w, http.StatusOK, st)
}

func pick(retry bool, plain, retrying device.Op) device.Op {
	if retry {
		return retrying
	}
	return plain
}
