// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"net/http"

	"github.com/chainpass/chainpass/internal/auth"
	"github.com/chainpass/chainpass/internal/domain"
	"github.com/chainpass/chainpass/internal/scan"
)

type scanFunc func(ctx context.Context, principal *auth.Principal, req scan.Request) (*scan.Result, error)

// scanHandler adapts one pipeline flow to HTTP. Unlike the teacher routes it
// does not reject missing or non-student principals up front: the pipeline
// owns those gates so that every attempt, authenticated or not, lands in the
// scan log. Rejections carry the scan-log result bucket next to the problem
// code.
func (s *Server) scanHandler(fn scanFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req scan.Request
		if err := decodeJSON(r, &req); err != nil {
			writeProblemExtra(w, r, err, map[string]any{
				"result": string(domain.ScanResultFor(err)),
			})
			return
		}
		req.IP = clientIP(r)
		req.UserAgent = r.UserAgent()

		res, err := fn(r.Context(), auth.FromContext(r.Context()), req)
		if err != nil {
			writeProblemExtra(w, r, err, map[string]any{
				"result": string(domain.ScanResultFor(err)),
			})
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
