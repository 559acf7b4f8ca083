package repo

import (
	"context"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/domain/entity"
)

// PlaybookRepository persists playbook definitions keyed by name.
type PlaybookRepository interface {
	Save(ctx context.Context, p *entity.Playbook) error
	Get(ctx context.Context, name string) (*entity.Playbook, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]*entity.Playbook, error)
}

// PermissionRepository persists per-city playbook permission levels.
type PermissionRepository interface {
	Set(ctx context.Context, perm *entity.Permission) error
	Get(ctx context.Context, cityID, playbookName string) (entity.PermissionLevel, error)
	List(ctx context.Context, cityID string) ([]*entity.Permission, error)
}
