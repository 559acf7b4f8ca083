package service

import (
	"context"
	"sort"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/domain/entity"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/domain/repo"
)

// Library answers scope-aware playbook queries on top of the repository.
type Library struct {
	repo repo.PlaybookRepository
}

func NewLibrary(r repo.PlaybookRepository) *Library {
	return &Library{repo: r}
}

// Get resolves a playbook by name.
func (l *Library) Get(ctx context.Context, name string) (*entity.Playbook, error) {
	return l.repo.Get(ctx, name)
}

// Available lists the router-callable playbooks visible to a persona in a
// building: public ones, the persona's personal ones, and the building's
// own. Dev-only playbooks are excluded. Results are sorted by name so the
// router enum is stable across calls.
func (l *Library) Available(ctx context.Context, personaID, buildingID string) ([]*entity.Playbook, error) {
	all, err := l.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []*entity.Playbook
	for _, p := range all {
		if !p.RouterCallable || p.DevOnly {
			continue
		}
		switch p.Scope {
		case entity.ScopePersonal:
			if p.OwnerPersonaID != personaID {
				continue
			}
		case entity.ScopeBuilding:
			if p.BuildingID != buildingID {
				continue
			}
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UserSelectable lists the playbooks a user may pick directly in the UI.
func (l *Library) UserSelectable(ctx context.Context, personaID string) ([]*entity.Playbook, error) {
	all, err := l.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []*entity.Playbook
	for _, p := range all {
		if !p.UserSelectable || p.DevOnly {
			continue
		}
		if p.Scope == entity.ScopePersonal && p.OwnerPersonaID != personaID {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
