// SPDX-License-Identifier: MIT

package auth

import (
	"context"
	"encoding/base64"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainpass/chainpass/internal/domain"
)

func testResolver() *Resolver {
	return NewResolver("", "stu.edu.hk", "vtc.edu.hk")
}

func encodeEnvelope(t *testing.T, body string) string {
	t.Helper()
	return base64.StdEncoding.EncodeToString([]byte(body))
}

func TestParseValidEnvelope(t *testing.T) {
	r := testResolver()
	value := encodeEnvelope(t, `{
		"identityProvider": "aad",
		"userId": "u-123",
		"userDetails": "alice@stu.edu.hk",
		"userRoles": ["anonymous", "authenticated"]
	}`)

	p, err := r.Parse(value)
	require.NoError(t, err)
	assert.Equal(t, "u-123", p.UserID)
	assert.Equal(t, "alice@stu.edu.hk", p.Email)
	assert.Equal(t, "aad", p.IdentityProvider)
	assert.True(t, p.IsStudent())
	assert.False(t, p.IsTeacher())
}

func TestParseAcceptsUnpaddedBase64(t *testing.T) {
	r := testResolver()
	body := `{"identityProvider":"aad","userId":"u-1","userDetails":"t@vtc.edu.hk"}`
	value := base64.RawStdEncoding.EncodeToString([]byte(body))

	p, err := r.Parse(value)
	require.NoError(t, err)
	assert.True(t, p.IsTeacher())
}

func TestParseRejections(t *testing.T) {
	r := testResolver()
	tests := []struct {
		name  string
		value string
	}{
		{"empty", ""},
		{"not base64", "!!!***"},
		{"not json", base64.StdEncoding.EncodeToString([]byte("hello"))},
		{"missing userId", encodeEnvelope(t, `{"identityProvider":"aad","userDetails":"a@stu.edu.hk"}`)},
		{"missing userDetails", encodeEnvelope(t, `{"identityProvider":"aad","userId":"u-1"}`)},
		{"unknown field", encodeEnvelope(t, `{"userId":"u-1","userDetails":"a@stu.edu.hk","identityProvider":"aad","admin":true}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Parse(tt.value)
			require.Error(t, err)
			assert.True(t, domain.IsCode(err, domain.CodeUnauthorized), "got %v", err)
		})
	}
}

func TestFromRequest(t *testing.T) {
	r := testResolver()

	req := httptest.NewRequest("POST", "/api/v1/scan/chain", nil)
	req.Header.Set(DefaultHeader, encodeEnvelope(t,
		`{"identityProvider":"aad","userId":"u-9","userDetails":"bob@stu.edu.hk"}`))

	p, err := r.FromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "u-9", p.UserID)

	_, err = r.FromRequest(httptest.NewRequest("POST", "/api/v1/scan/chain", nil))
	assert.True(t, domain.IsCode(err, domain.CodeUnauthorized))
}

func TestPrincipalContextRoundTrip(t *testing.T) {
	p := &Principal{UserID: "u-1", Roles: []domain.Role{domain.RoleStudent}}

	ctx := WithPrincipal(context.Background(), p)
	assert.Same(t, p, FromContext(ctx))
	assert.Nil(t, FromContext(context.Background()))
}

func TestNilPrincipalHasNoRoles(t *testing.T) {
	var p *Principal
	assert.False(t, p.HasRole(domain.RoleStudent))
	assert.False(t, p.IsTeacher())
}
