package auth

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticate(t *testing.T) {
	tokens := []TokenConfig{
		{Token: "writer", Scopes: []string{" documents:rw ", ""}},
		{Token: "reader", Scopes: []string{"documents:ro"}},
	}

	p, ok := Authenticate("admin-key", "admin-key", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, "anything"))

	p, ok = Authenticate("writer", "admin-key", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeDocumentsRW))
	assert.True(t, HasAnyScope(p, ScopeDocumentsRO), "rw implies ro")
	assert.True(t, HasAnyScope(p, ScopeMetricsRO))
	assert.NotContains(t, p.Scopes, "")

	p, ok = Authenticate("reader", "admin-key", tokens)
	require.True(t, ok)
	assert.False(t, HasAnyScope(p, ScopeDocumentsRW))

	_, ok = Authenticate("nope", "admin-key", tokens)
	assert.False(t, ok)
}

func TestAuthenticateEmptyKeyNeverMatches(t *testing.T) {
	_, ok := Authenticate("", "", nil)
	assert.False(t, ok)
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "valid", header: "Bearer abc", want: "abc"},
		{name: "missing", header: "", wantErr: true},
		{name: "wrong scheme", header: "Basic abc", wantErr: true},
		{name: "empty token", header: "Bearer   ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractBearerToken(r)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{Token: "t"})
	p, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "t", p.Token)
}
