package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"discord-rpc/internal/domain"
	"discord-rpc/pkg/rpcsdk"
)

// StatusResponse is the JSON body returned by GET /api/v1/status.
type StatusResponse struct {
	ClientID      string              `json:"client_id"`
	State         string              `json:"state"`
	Connected     bool                `json:"connected"`
	User          *rpcsdk.PartialUser `json:"user,omitempty"`
	Version       string              `json:"version"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Gateway       GatewayStats        `json:"gateway"`
}

// GatewayStats is a snapshot of Stats.
type GatewayStats struct {
	Clients        int   `json:"clients"`
	EventsReceived int64 `json:"events_received"`
	EventsDropped  int64 `json:"events_dropped"`
	Requests       int64 `json:"requests"`
	RequestErrors  int64 `json:"request_errors"`
}

// Stats counts gateway traffic.
type Stats struct {
	EventsReceived atomic.Int64
	EventsDropped  atomic.Int64
	Requests       atomic.Int64
	RequestErrors  atomic.Int64
}

func (s *Server) status() StatusResponse {
	state := s.presence.State()
	resp := StatusResponse{
		ClientID:      s.presence.ClientID(),
		State:         state.String(),
		Connected:     state == domain.StateConnected,
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Gateway: GatewayStats{
			EventsReceived: s.stats.EventsReceived.Load(),
			EventsDropped:  s.stats.EventsDropped.Load(),
			Requests:       s.stats.Requests.Load(),
			RequestErrors:  s.stats.RequestErrors.Load(),
		},
	}
	if ready, ok := s.presence.Ready(); ok && resp.Connected {
		resp.User = &ready.User
	}
	s.clients.Range(func(_, _ any) bool {
		resp.Gateway.Clients++
		return true
	})
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleSetActivity(w http.ResponseWriter, r *http.Request) {
	var a rpcsdk.Activity
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.stats.Requests.Add(1)
	got, err := s.presence.SetActivity(r.Context(), a)
	if err != nil {
		s.stats.RequestErrors.Add(1)
		writeError(w, httpStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, got)
}

func (s *Server) handleClearActivity(w http.ResponseWriter, r *http.Request) {
	s.stats.Requests.Add(1)
	if err := s.presence.ClearActivity(r.Context()); err != nil {
		s.stats.RequestErrors.Add(1)
		writeError(w, httpStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// httpStatus maps client errors to response codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrCommandFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrRetriesExhausted),
		errors.Is(err, domain.ErrClosed),
		errors.Is(err, domain.ErrNotStarted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error(), Code: errorCode(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
