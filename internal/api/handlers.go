package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/aviolabs/jblbridge/internal/bridge"
)

// handleState returns the current receiver state snapshot.
func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

// handleStats returns control channel and command pipeline statistics.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.controller.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"link": map[string]any{
			"frames_tx":            stats.Client.FramesTx,
			"frames_rx":            stats.Client.FramesRx,
			"frames_invalid":       stats.Client.FramesInvalid,
			"frames_dropped":       stats.Client.FramesDropped,
			"reconnects":           stats.Client.ReconnectsTotal,
			"consecutive_refusals": stats.Client.ConsecutiveRefusals,
			"session":              stats.Client.Session,
			"last_activity":        stats.Client.LastActivity,
		},
		"commands": map[string]any{
			"issued":     stats.Dispatcher.Issued,
			"sent":       stats.Dispatcher.Sent,
			"superseded": stats.Dispatcher.Superseded,
			"retries":    stats.Dispatcher.Retries,
			"timeouts":   stats.Dispatcher.Timeouts,
			"rejected":   stats.Dispatcher.Rejected,
		},
	})
}

// handleHistory returns recent state changes from the local audit trail.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.historyDB == nil {
		writeNotFound(w, "state history is not enabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	entries, err := s.historyDB.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("querying state history failed", "error", err)
		writeInternalError(w, "querying state history failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// handleCommand accepts one command message, dispatches it to the receiver
// and returns the acknowledgment. The body uses the same vocabulary as the
// MQTT command topic.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var msg bridge.CommandMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeBadRequest(w, "parsing command: "+err.Error())
		return
	}
	if msg.Action == "" {
		writeBadRequest(w, "action is required")
		return
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cmdTimeout)
	defer cancel()

	err := bridge.Dispatch(ctx, s.controller, msg)
	status := bridge.StatusFromError(err)

	ack := bridge.AckMessage{
		ID:        msg.ID,
		Action:    msg.Action,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		ack.Error = err.Error()
	}

	writeJSON(w, httpStatusForAck(status), ack)
}

// httpStatusForAck maps a command outcome to an HTTP status code.
func httpStatusForAck(status string) int {
	switch status {
	case bridge.StatusOK, bridge.StatusSuperseded:
		return http.StatusOK
	case bridge.StatusTimeout:
		return http.StatusGatewayTimeout
	case bridge.StatusOffline, bridge.StatusLimited:
		return http.StatusServiceUnavailable
	case bridge.StatusRejected:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
