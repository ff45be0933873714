// SPDX-License-Identifier: MIT

// Package auth resolves the caller identity. Requests arrive with a
// base64-encoded JSON principal envelope injected by the identity-aware
// ingress; this package decodes it strictly and derives roles from the
// email domain. It never talks to the identity provider itself.
package auth

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/chainpass/chainpass/internal/domain"
)

// DefaultHeader is the conventional envelope header name.
const DefaultHeader = "x-ms-client-principal"

// envelope is the wire shape of the injected principal. Any field outside
// this set fails the decode; a permissive parser here would let a proxy
// smuggle identity claims past the strict contract.
type envelope struct {
	IdentityProvider string   `json:"identityProvider"`
	UserID           string   `json:"userId"`
	UserDetails      string   `json:"userDetails"`
	UserRoles        []string `json:"userRoles,omitempty"`
}

// Principal is the authenticated caller.
type Principal struct {
	UserID           string
	Email            string
	IdentityProvider string
	Roles            []domain.Role
}

// HasRole reports whether the principal carries the role.
func (p *Principal) HasRole(role domain.Role) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsStudent reports whether the principal may use the scanning flows.
func (p *Principal) IsStudent() bool { return p.HasRole(domain.RoleStudent) }

// IsTeacher reports whether the principal may use the control flows.
func (p *Principal) IsTeacher() bool { return p.HasRole(domain.RoleTeacher) }

// Resolver decodes principal envelopes with the configured role domains.
type Resolver struct {
	Header        string
	StudentDomain string
	TeacherDomain string
}

// NewResolver builds a Resolver, falling back to the default header name.
func NewResolver(header, studentDomain, teacherDomain string) *Resolver {
	if header == "" {
		header = DefaultHeader
	}
	return &Resolver{Header: header, StudentDomain: studentDomain, TeacherDomain: teacherDomain}
}

// Parse decodes one envelope value. Every malformed input maps to
// UNAUTHORIZED; the caller cannot distinguish "absent" from "forged".
func (r *Resolver) Parse(value string) (*Principal, error) {
	if value == "" {
		return nil, domain.E(domain.CodeUnauthorized, "missing principal envelope")
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		// Some ingresses strip the padding.
		raw, err = base64.RawStdEncoding.DecodeString(value)
		if err != nil {
			return nil, domain.E(domain.CodeUnauthorized, "principal envelope is not valid base64")
		}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var env envelope
	if err := dec.Decode(&env); err != nil {
		return nil, domain.E(domain.CodeUnauthorized, "principal envelope is not valid JSON")
	}
	if env.UserID == "" || env.UserDetails == "" {
		return nil, domain.E(domain.CodeUnauthorized, "principal envelope missing userId or userDetails")
	}

	return &Principal{
		UserID:           env.UserID,
		Email:            env.UserDetails,
		IdentityProvider: env.IdentityProvider,
		Roles:            DeriveRoles(env.UserDetails, r.StudentDomain, r.TeacherDomain),
	}, nil
}

// FromRequest resolves the principal of an HTTP request.
func (r *Resolver) FromRequest(req *http.Request) (*Principal, error) {
	return r.Parse(req.Header.Get(r.Header))
}
