// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"

	"github.com/chainpass/chainpass/internal/audit"
	"github.com/chainpass/chainpass/internal/auth"
)

// Principal resolves the caller identity from the principal envelope header
// and stores it on the request context. It never rejects: downstream layers
// decide what an absent or malformed identity means, so that scan attempts
// without credentials still reach the pipeline and leave an audit row.
func Principal(resolver *auth.Resolver, auditLog *audit.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(resolver.Header)
			if raw == "" {
				if auditLog != nil {
					auditLog.AuthMissing(r.RemoteAddr, r.URL.Path)
				}
				next.ServeHTTP(w, r)
				return
			}

			p, err := resolver.Parse(raw)
			if err != nil {
				if auditLog != nil {
					auditLog.AuthFailure(r.RemoteAddr, r.URL.Path, err.Error())
				}
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	}
}
