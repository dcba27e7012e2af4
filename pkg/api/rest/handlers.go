package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mouliraj56/webSerial-modbus/pkg/bus"
	"github.com/mouliraj56/webSerial-modbus/pkg/core"
	"github.com/mouliraj56/webSerial-modbus/pkg/modbus"
	"github.com/mouliraj56/webSerial-modbus/pkg/poll"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.manager.Sessions())
}

// session resolves the {name} path variable, writing a 404 on failure.
func (s *Server) session(w http.ResponseWriter, r *http.Request) *core.Session {
	sess, err := s.manager.Session(mux.Vars(r)["name"])
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return nil
	}
	return sess
}

type testConnectionRequest struct {
	UnitID byte `json:"unit_id"`
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}

	var req testConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.UnitID < 1 || req.UnitID > 247 {
		respondError(w, http.StatusBadRequest, "unit_id must be 1-247")
		return
	}

	rtt, err := sess.TestConnection(r.Context(), req.UnitID)
	if err != nil {
		respondTransactionError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"round_trip_time": rtt.String(),
	})
}

type writeRequest struct {
	UnitID  byte     `json:"unit_id"`
	Space   string   `json:"space"`
	Address uint32   `json:"address"`
	Value   uint16   `json:"value"`
	Values  []uint16 `json:"values,omitempty"`
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}

	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	space, err := modbus.ParseSpace(req.Space)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	addr := modbus.Address{Space: space, Offset: modbus.ConvertAddress(space, req.Address)}

	if len(req.Values) > 0 {
		err = sess.WriteRegisters(r.Context(), req.UnitID, addr, req.Values)
	} else {
		err = sess.WriteRegister(r.Context(), req.UnitID, addr, req.Value)
	}
	if err != nil {
		respondTransactionError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "written"})
}

func (s *Server) handleReadGroup(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	groupID := mux.Vars(r)["group"]

	if err := sess.ReadGroup(r.Context(), groupID); err != nil {
		respondTransactionError(w, err)
		return
	}

	values, err := sess.Values(groupID)
	if err != nil {
		respondTransactionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, values)
}

func (s *Server) handleValues(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}

	values, err := sess.Values(mux.Vars(r)["group"])
	if err != nil {
		respondTransactionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, values)
}

func (s *Server) handleStartPolling(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}

	if err := sess.StartPolling(mux.Vars(r)["group"]); err != nil {
		respondTransactionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "polling"})
}

func (s *Server) handleStopPolling(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}

	if err := sess.StopPolling(mux.Vars(r)["group"]); err != nil {
		respondTransactionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleTrafficExport(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	respondJSON(w, http.StatusOK, sess.ExportTraffic())
}

func (s *Server) handleTrafficPause(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	sess.TrafficLog().Pause()
	respondJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleTrafficResume(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	sess.TrafficLog().Resume()
	respondJSON(w, http.StatusOK, map[string]string{"status": "recording"})
}

func (s *Server) handleTrafficArchive(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.manager.ArchiveTraffic(name); err != nil {
		respondTransactionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "archived"})
}

// respondTransactionError maps bus and session errors onto HTTP status
// codes.
func respondTransactionError(w http.ResponseWriter, err error) {
	var exc *modbus.ExceptionError

	switch {
	case errors.Is(err, bus.ErrBusy):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, bus.ErrTimeout):
		respondError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, bus.ErrCancelled), errors.Is(err, bus.ErrClosed):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, core.ErrGroupNotFound), errors.Is(err, core.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrReadOnlySpace), errors.Is(err, core.ErrNoArchive),
		errors.Is(err, poll.ErrInvalidPeriod):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, poll.ErrAlreadyScheduled):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, poll.ErrNotScheduled):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &exc):
		respondError(w, http.StatusBadGateway, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
