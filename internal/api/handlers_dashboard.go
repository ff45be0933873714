// SPDX-License-Identifier: MIT

package api

import (
	"net/http"

	"github.com/chainpass/chainpass/internal/domain"
	"github.com/chainpass/chainpass/internal/realtime"
)

func (s *Server) handleAttendanceList(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requireTeacher(w, r)
	if !ok {
		return
	}
	sess, ok := s.ownedSession(w, r, p.UserID)
	if !ok {
		return
	}

	recs, err := s.records.List(r.Context(), sess.SessionID)
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	if recs == nil {
		recs = []domain.AttendanceRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": recs})
}

func (s *Server) handleScanLogList(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requireTeacher(w, r)
	if !ok {
		return
	}
	sess, ok := s.ownedSession(w, r, p.UserID)
	if !ok {
		return
	}

	logs, err := s.scans.List(r.Context(), sess.SessionID)
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	if logs == nil {
		logs = []domain.ScanLog{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"scans": logs})
}

type negotiateRequest struct {
	SessionID string `json:"sessionId"`
}

// handleNegotiate hands the caller the websocket channel descriptor for a
// session. Any authenticated member may subscribe; the push channel carries
// dashboard state, never token material.
func (s *Server) handleNegotiate(w http.ResponseWriter, r *http.Request) {
	_, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}
	if !s.conf.RealtimeEnabled {
		writeProblem(w, r, domain.E(domain.CodeNotFound, "realtime is not enabled"))
		return
	}

	var req negotiateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeProblem(w, r, err)
		return
	}
	if req.SessionID == "" {
		writeProblem(w, r, domain.E(domain.CodeInvalidRequest, "sessionId is required"))
		return
	}

	// The session must exist, but may be ENDED: dashboards watch the
	// finalization wave too.
	if _, err := s.sessions.Get(r.Context(), req.SessionID); err != nil {
		writeProblem(w, r, err)
		return
	}

	desc := realtime.Negotiate(s.websocketURL(), req.SessionID, s.conf.NegotiateTTL, s.now())
	writeJSON(w, http.StatusOK, desc)
}
