// SPDX-License-Identifier: MIT

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chainpass/chainpass/internal/domain"
	"github.com/chainpass/chainpass/internal/session"
)

type createSessionRequest struct {
	ClassID           string              `json:"classId"`
	StartAt           int64               `json:"startAt"`
	EndAt             int64               `json:"endAt"`
	LateCutoffMinutes int                 `json:"lateCutoffMinutes"`
	ExitWindowMinutes int                 `json:"exitWindowMinutes"`
	Constraints       *domain.Constraints `json:"constraints,omitempty"`
	OwnerTransfer     *bool               `json:"ownerTransfer,omitempty"`
}

type sessionResponse struct {
	Session *domain.Session `json:"session"`
	// QR is the static join payload for the classroom poster.
	QR string `json:"qr,omitempty"`
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requireTeacher(w, r)
	if !ok {
		return
	}

	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeProblem(w, r, err)
		return
	}

	sess, qr, err := s.sessions.Create(r.Context(), session.CreateInput{
		TeacherID:         p.UserID,
		ClassID:           req.ClassID,
		StartAt:           req.StartAt,
		EndAt:             req.EndAt,
		LateCutoffMinutes: req.LateCutoffMinutes,
		ExitWindowMinutes: req.ExitWindowMinutes,
		Constraints:       req.Constraints,
		OwnerTransfer:     req.OwnerTransfer,
	})
	if err != nil {
		writeProblem(w, r, err)
		return
	}

	s.audit.SessionCreated(r.Context(), p.UserID, sess.SessionID, sess.ClassID)
	writeJSON(w, http.StatusCreated, sessionResponse{Session: sess, QR: qr})
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requireTeacher(w, r)
	if !ok {
		return
	}

	sessions, err := s.sessions.ListByTeacher(r.Context(), p.UserID)
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []domain.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// handleSessionGet serves both roles. The owning teacher sees the full record;
// everyone else gets a copy with the live rotating token ids blanked, so a
// student cannot read the late-entry code off the API instead of the
// classroom display.
func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}

	sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeProblem(w, r, err)
		return
	}

	if sess.TeacherID != p.UserID {
		redacted := *sess
		redacted.CurrentLateTokenID = ""
		redacted.CurrentEarlyTokenID = ""
		sess = &redacted
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		Session: sess,
		QR:      domain.EncodeSessionQR(sess.SessionID, sess.ClassID),
	})
}

type endSessionResponse struct {
	Session *domain.Session `json:"session"`
	// Finalized is the number of attendance records closed out.
	Finalized int `json:"finalized"`
}

func (s *Server) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requireTeacher(w, r)
	if !ok {
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := s.sessions.End(r.Context(), sessionID, p.UserID)
	if err != nil {
		writeProblem(w, r, err)
		return
	}

	finalized := 0
	if recs, err := s.records.List(r.Context(), sessionID); err == nil {
		finalized = len(recs)
	}
	s.audit.SessionEnded(r.Context(), p.UserID, sessionID, finalized)
	writeJSON(w, http.StatusOK, endSessionResponse{Session: sess, Finalized: finalized})
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requireTeacher(w, r)
	if !ok {
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.sessions.Delete(r.Context(), sessionID, p.UserID); err != nil {
		writeProblem(w, r, err)
		return
	}

	s.audit.SessionDeleted(r.Context(), p.UserID, sessionID)
	w.WriteHeader(http.StatusNoContent)
}

type rotatingTokenResponse struct {
	Token *domain.Token `json:"token"`
	// QR is the scan link the teacher's display renders for this token.
	QR string `json:"qr"`
}

// rotationHandler builds the start/rotate/stop handler for one rotating flow.
// The session service enforces ownership and session state.
func (s *Server) rotationHandler(typ domain.TokenType, action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := s.requireTeacher(w, r)
		if !ok {
			return
		}
		ctx := r.Context()
		sessionID := chi.URLParam(r, "sessionID")

		var (
			tok *domain.Token
			err error
		)
		switch {
		case typ == domain.TokenLateEntry && action == "start":
			tok, err = s.sessions.StartLateEntry(ctx, sessionID, p.UserID)
		case typ == domain.TokenLateEntry && action == "rotate":
			tok, err = s.sessions.RotateLateEntry(ctx, sessionID, p.UserID)
		case typ == domain.TokenLateEntry && action == "stop":
			err = s.sessions.StopLateEntry(ctx, sessionID, p.UserID)
		case typ == domain.TokenEarlyLeave && action == "start":
			tok, err = s.sessions.StartEarlyLeave(ctx, sessionID, p.UserID)
		case typ == domain.TokenEarlyLeave && action == "rotate":
			tok, err = s.sessions.RotateEarlyLeave(ctx, sessionID, p.UserID)
		case typ == domain.TokenEarlyLeave && action == "stop":
			err = s.sessions.StopEarlyLeave(ctx, sessionID, p.UserID)
		}
		if err != nil {
			writeProblem(w, r, err)
			return
		}

		s.audit.RotationControl(ctx, p.UserID, sessionID, string(typ), action)

		if tok == nil {
			writeJSON(w, http.StatusOK, map[string]any{"sessionId": sessionID, "active": false})
			return
		}
		writeJSON(w, http.StatusOK, rotatingTokenResponse{
			Token: tok,
			QR:    domain.ScanURL(s.conf.PublicBaseURL, sessionID, tok.Type, tok.TokenID),
		})
	}
}
