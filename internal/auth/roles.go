// SPDX-License-Identifier: MIT

package auth

import (
	"strings"

	"github.com/chainpass/chainpass/internal/domain"
)

// DeriveRoles maps an email address to roles by its domain. Matching is
// case-insensitive and suffix-exact on the full domain: a subdomain of the
// student domain grants nothing, and neither does the student domain
// embedded in a longer one.
func DeriveRoles(email, studentDomain, teacherDomain string) []domain.Role {
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return nil
	}
	d := email[at+1:]

	var roles []domain.Role
	if studentDomain != "" && strings.EqualFold(d, studentDomain) {
		roles = append(roles, domain.RoleStudent)
	}
	if teacherDomain != "" && strings.EqualFold(d, teacherDomain) {
		roles = append(roles, domain.RoleTeacher)
	}
	return roles
}
