package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/church-treasury/treasury"
)

func TestRoleOrdering(t *testing.T) {
	tests := []struct {
		role Role
		min  Role
		want bool
	}{
		{RoleAdmin, RoleTreasurer, true},
		{RoleTreasurer, RoleTreasurer, true},
		{RolePastor, RoleTreasurer, false},
		{RoleSecretary, RolePastor, false},
		{Role("owner"), RoleSecretary, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.role)+">="+string(tt.min), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.role.AtLeast(tt.min))
		})
	}
}

func TestChurchScoping(t *testing.T) {
	admin := Identity{UserID: "a", Role: RoleAdmin}
	treasurer := Identity{UserID: "t", Role: RoleTreasurer, ChurchID: "c-1"}
	orphan := Identity{UserID: "o", Role: RoleTreasurer}

	assert.NoError(t, admin.RequireChurch("c-9"))
	assert.NoError(t, treasurer.RequireChurch("c-1"))
	assert.ErrorIs(t, treasurer.RequireChurch("c-2"), treasury.ErrAuthorization)
	assert.ErrorIs(t, orphan.RequireChurch(""), treasury.ErrAuthorization)

	assert.True(t, treasurer.CanSee(""), "national rows are visible to everyone")
	assert.False(t, treasurer.CanSee("c-2"))
}

func TestReportApprovalNeedsTreasurer(t *testing.T) {
	pastor := Identity{UserID: "p", Role: RolePastor, ChurchID: "c-1"}
	treasurer := Identity{UserID: "t", Role: RoleTreasurer, ChurchID: "c-1"}

	assert.ErrorIs(t, pastor.RequireReportApproval("c-1"), treasury.ErrAuthorization)
	assert.NoError(t, treasurer.RequireReportApproval("c-1"))
	assert.ErrorIs(t, treasurer.RequireReportApproval("c-2"), treasury.ErrAuthorization)
}

func TestActorRoundTrip(t *testing.T) {
	assert.Equal(t, "usr_42", ActorFor("42"))
	assert.Equal(t, "usr_42", ActorFor("usr_42"))
	assert.Equal(t, "42", UserIDFromActor(ActorFor("42")))
}

// =============================================================================
// JWT
// =============================================================================

func TestJWTIssueAndAuthenticate(t *testing.T) {
	p := NewJWTProvider("secret", "church-treasury", time.Hour)
	want := Identity{UserID: "u-1", Email: "t@iglesia.org", Role: RoleTreasurer, ChurchID: "c-1"}

	token, err := p.Issue(want)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/funds", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	got, err := p.Authenticate(req)

	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestJWTRejections(t *testing.T) {
	p := NewJWTProvider("secret", "church-treasury", time.Hour)
	valid, err := p.Issue(Identity{UserID: "u-1", Role: RoleAdmin})
	require.NoError(t, err)

	otherIssuer, err := NewJWTProvider("secret", "someone-else", time.Hour).Issue(Identity{UserID: "u-1", Role: RoleAdmin})
	require.NoError(t, err)

	badRole, err := p.Issue(Identity{UserID: "u-1", Role: Role("owner")})
	require.NoError(t, err)

	noSubject, err := p.Issue(Identity{Role: RoleAdmin})
	require.NoError(t, err)

	expiring := NewJWTProvider("secret", "church-treasury", time.Minute)
	expiring.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, err := expiring.Issue(Identity{UserID: "u-1", Role: RoleAdmin})
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic " + valid},
		{"garbage", "Bearer not-a-token"},
		{"other issuer", "Bearer " + otherIssuer},
		{"unknown role", "Bearer " + badRole},
		{"no subject", "Bearer " + noSubject},
		{"expired", "Bearer " + expired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			_, err := p.Authenticate(req)
			assert.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}
