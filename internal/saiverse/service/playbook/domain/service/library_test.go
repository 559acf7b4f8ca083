package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/domain/entity"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/store/inmemory"
)

func seedLibrary(t *testing.T) *Library {
	t.Helper()
	repo := inmemory.NewPlaybookStore()
	ctx := context.Background()
	for _, p := range []*entity.Playbook{
		{Name: "zeta_public", Scope: entity.ScopePublic, RouterCallable: true, UserSelectable: true},
		{Name: "alpha_public", Scope: entity.ScopePublic, RouterCallable: true},
		{Name: "mine", Scope: entity.ScopePersonal, OwnerPersonaID: "p1", RouterCallable: true, UserSelectable: true},
		{Name: "theirs", Scope: entity.ScopePersonal, OwnerPersonaID: "p2", RouterCallable: true, UserSelectable: true},
		{Name: "cafe_menu", Scope: entity.ScopeBuilding, BuildingID: "cafe", RouterCallable: true},
		{Name: "gym_rules", Scope: entity.ScopeBuilding, BuildingID: "gym", RouterCallable: true},
		{Name: "dev_sandbox", Scope: entity.ScopePublic, RouterCallable: true, UserSelectable: true, DevOnly: true},
		{Name: "silent_helper", Scope: entity.ScopePublic},
	} {
		require.NoError(t, repo.Save(ctx, p))
	}
	return NewLibrary(repo)
}

func names(ps []*entity.Playbook) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name
	}
	return out
}

func TestAvailableScopeAndSort(t *testing.T) {
	lib := seedLibrary(t)

	ps, err := lib.Available(context.Background(), "p1", "cafe")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha_public", "cafe_menu", "mine", "zeta_public"}, names(ps))
}

func TestAvailableExcludesForeignScopes(t *testing.T) {
	lib := seedLibrary(t)

	ps, err := lib.Available(context.Background(), "p3", "library")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha_public", "zeta_public"}, names(ps))
}

func TestUserSelectable(t *testing.T) {
	lib := seedLibrary(t)

	ps, err := lib.UserSelectable(context.Background(), "p2")
	require.NoError(t, err)
	assert.Equal(t, []string{"theirs", "zeta_public"}, names(ps))
}
