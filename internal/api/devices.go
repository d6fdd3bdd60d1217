package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/eufy-bridge/internal/bridge"
	"github.com/nerrad567/eufy-bridge/internal/device"
	"github.com/nerrad567/eufy-bridge/internal/dispatch"
	"github.com/nerrad567/eufy-bridge/internal/poller"
	"github.com/nerrad567/eufy-bridge/internal/transport"
)

// commandRequest is the request body for POST /devices/{serial}/commands.
type commandRequest struct {
	Command string `json:"command"`
	Param   int    `json:"param"`
}

// commandResponse reports an acknowledged command.
type commandResponse struct {
	Serial  string          `json:"serial"`
	Command transport.Kind  `json:"command"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// handleListDevices returns every device, optionally filtered by kind
// (?kind=camera) or station (?station=T8010...).
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	station := r.URL.Query().Get("station")

	records := s.directory.ListAll()
	out := make([]device.Record, 0, len(records))
	for _, rec := range records {
		if kind != "" && string(rec.Kind) != kind {
			continue
		}
		if station != "" && rec.StationSerial != station && rec.Serial != station {
			continue
		}
		out = append(out, rec)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": out,
		"count":   len(out),
	})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")
	rec, err := s.directory.Snapshot(serial)
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to read device")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleCommand dispatches a command and waits for the device's
// acknowledgement.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	kind, err := dispatch.ParseKind(strings.TrimSpace(req.Command))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeUnsupported, err.Error())
		return
	}

	ack, err := s.bridge.Dispatch(r.Context(), serial, kind, req.Param)
	if err != nil {
		s.writeCommandError(w, serial, err)
		return
	}

	writeJSON(w, http.StatusOK, commandResponse{Serial: serial, Command: kind, Result: ack.Result})
}

// writeCommandError maps dispatch failures onto HTTP statuses.
func (s *Server) writeCommandError(w http.ResponseWriter, serial string, err error) {
	switch {
	case errors.Is(err, dispatch.ErrUnknownDevice):
		writeNotFound(w, "device not found")
	case errors.Is(err, dispatch.ErrUnsupported), errors.Is(err, dispatch.ErrInvalidParameter):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeUnsupported, err.Error())
	case errors.Is(err, dispatch.ErrNoRoute):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, bridge.ErrNotReady), errors.Is(err, dispatch.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	case errors.Is(err, dispatch.ErrCommandFailed):
		s.logger.Warn("api command failed", "serial", serial, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeUpstreamFailure, err.Error())
	default:
		s.logger.Error("api command error", "serial", serial, "error", err)
		writeInternalError(w, "command failed")
	}
}

// handleRefresh forces an inventory refresh. A failed refresh still
// reports the number of cached devices.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	n, err := s.bridge.Refresh(r.Context())
	if err != nil {
		if errors.Is(err, poller.ErrRefreshFailed) {
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"status":  http.StatusBadGateway,
				"code":    ErrCodeUpstreamFailure,
				"message": err.Error(),
				"devices": n,
			})
			return
		}
		writeInternalError(w, "refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": n})
}
