// SPDX-License-Identifier: MIT

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chainpass/chainpass/internal/chain"
	"github.com/chainpass/chainpass/internal/domain"
)

type seedChainsRequest struct {
	Phase domain.ChainPhase `json:"phase"`
	K     int               `json:"k"`
}

type seedChainsResponse struct {
	Chains []chain.SeededChain `json:"chains"`
}

// ownedSession loads the session from the URL and enforces that the caller is
// its teacher. The chain service trusts the session it is handed, so the
// ownership check has to happen here.
func (s *Server) ownedSession(w http.ResponseWriter, r *http.Request, teacherID string) (*domain.Session, bool) {
	sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeProblem(w, r, err)
		return nil, false
	}
	if sess.TeacherID != teacherID {
		s.audit.Forbidden(r.Context(), teacherID, r.URL.Path, "session belongs to another teacher")
		writeProblem(w, r, domain.E(domain.CodeForbidden, "session belongs to another teacher"))
		return nil, false
	}
	return sess, true
}

func (s *Server) handleChainSeed(w http.ResponseWriter, r *http.Request) {
	s.seedChains(w, r, false)
}

func (s *Server) handleChainReseed(w http.ResponseWriter, r *http.Request) {
	s.seedChains(w, r, true)
}

func (s *Server) seedChains(w http.ResponseWriter, r *http.Request, reseed bool) {
	p, ok := s.requireTeacher(w, r)
	if !ok {
		return
	}
	sess, ok := s.ownedSession(w, r, p.UserID)
	if !ok {
		return
	}

	var req seedChainsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeProblem(w, r, err)
		return
	}

	k := req.K
	if k <= 0 {
		k = s.conf.DefaultChainLength
	}

	var (
		seeded []chain.SeededChain
		err    error
	)
	if reseed {
		seeded, err = s.chains.Reseed(r.Context(), sess, req.Phase, k)
	} else {
		seeded, err = s.chains.Seed(r.Context(), sess, req.Phase, k)
	}
	if err != nil {
		writeProblem(w, r, err)
		return
	}

	s.audit.ChainsSeeded(r.Context(), p.UserID, sess.SessionID, string(req.Phase), len(seeded), reseed)
	writeJSON(w, http.StatusCreated, seedChainsResponse{Chains: seeded})
}

type detectStalledRequest struct {
	Phase domain.ChainPhase `json:"phase"`
}

type detectStalledResponse struct {
	Stalled []string `json:"stalled"`
}

// handleChainStalled runs an on-demand stall detection pass for one phase.
// The background sweeper runs the same check on its own clock.
func (s *Server) handleChainStalled(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requireTeacher(w, r)
	if !ok {
		return
	}
	sess, ok := s.ownedSession(w, r, p.UserID)
	if !ok {
		return
	}

	var req detectStalledRequest
	if err := decodeJSON(r, &req); err != nil {
		writeProblem(w, r, err)
		return
	}
	if req.Phase != domain.PhaseEntry && req.Phase != domain.PhaseExit {
		writeProblem(w, r, domain.Ef(domain.CodeInvalidRequest, "invalid phase %q", req.Phase))
		return
	}

	stalled, err := s.chains.DetectStalled(r.Context(), sess.SessionID, req.Phase)
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	if stalled == nil {
		stalled = []string{}
	}
	writeJSON(w, http.StatusOK, detectStalledResponse{Stalled: stalled})
}

func (s *Server) handleChainList(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requireTeacher(w, r)
	if !ok {
		return
	}
	sess, ok := s.ownedSession(w, r, p.UserID)
	if !ok {
		return
	}

	chains, err := s.chains.List(r.Context(), sess.SessionID)
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	if chains == nil {
		chains = []domain.Chain{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chains": chains})
}
