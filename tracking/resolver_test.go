package tracking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedResolverData(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.UpsertCompany(ctx, "acme", "Acme"))
	require.NoError(t, s.UpsertUser(ctx, User{ID: "alice", Identity: "alice@example.com", CVReference: "cv/alice"}))
	require.NoError(t, s.UpsertUser(ctx, User{ID: "operator", Identity: "ops@example.com", CVReference: "cv/ops"}))
	require.NoError(t, s.SetPreference(ctx, Preference{UserID: "alice", CompanyID: "acme", Rank: 90, IsTracking: true}))
	return s
}

func TestTrackerResolver(t *testing.T) {
	ctx := context.Background()
	s := seedResolverData(t)
	r := NewTrackerResolver(s)

	uc, err := r.ResolveUser(ctx, &Company{ID: "acme"})
	require.NoError(t, err)
	require.NotNil(t, uc)
	assert.Equal(t, "alice", uc.UserID)
	assert.Equal(t, "cv/alice", uc.CVReference)

	uc, err = r.ResolveUser(ctx, &Company{ID: "untracked"})
	require.NoError(t, err)
	assert.Nil(t, uc, "no tracker resolves to none")

	// tracker without a user record
	require.NoError(t, s.SetPreference(ctx, Preference{UserID: "ghost", CompanyID: "globex", Rank: 50, IsTracking: true}))
	uc, err = r.ResolveUser(ctx, &Company{ID: "globex"})
	require.NoError(t, err)
	assert.Nil(t, uc)
}

func TestStaticResolver(t *testing.T) {
	ctx := context.Background()
	s := seedResolverData(t)

	uc, err := NewStaticResolver(s, "operator").ResolveUser(ctx, &Company{ID: "acme"})
	require.NoError(t, err)
	require.NotNil(t, uc)
	assert.Equal(t, "ops@example.com", uc.Identity)

	uc, err = NewStaticResolver(s, "missing").ResolveUser(ctx, &Company{ID: "acme"})
	require.NoError(t, err)
	assert.Nil(t, uc)
}

func TestNewResolver(t *testing.T) {
	s := newTestStore(t)
	assert.IsType(t, &StaticResolver{}, NewResolver(s, "operator"))
	assert.IsType(t, &TrackerResolver{}, NewResolver(s, ""))
}
