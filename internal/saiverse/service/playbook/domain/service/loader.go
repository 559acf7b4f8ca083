package service

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/domain/entity"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/domain/repo"
	"github.com/maha0525/SAIVerse-sub004/pkg/logger"
	"github.com/maha0525/SAIVerse-sub004/pkg/utils/json"
	"github.com/maha0525/SAIVerse-sub004/pkg/utils/safego"
)

const loaderModule = "playbook-loader"

// Loader reads playbook definition files from a directory tree and keeps
// the repository in sync. Layout: public/*.json, personal/<persona>/*.json,
// building/<building>/*.json. Scope and ownership are inferred from the
// path when the file does not set them.
type Loader struct {
	dir  string
	repo repo.PlaybookRepository

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

func NewLoader(dir string, r repo.PlaybookRepository) *Loader {
	return &Loader{dir: dir, repo: r}
}

// LoadAll walks the directory once and saves every valid playbook.
// Invalid files are logged and skipped.
func (l *Loader) LoadAll(ctx context.Context) (int, error) {
	count := 0
	err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		if err := l.loadFile(ctx, path); err != nil {
			logger.WarnX(loaderModule, "skipping %s: %v", path, err)
			return nil
		}
		count++
		return nil
	})
	if err != nil {
		return count, err
	}
	logger.InfoX(loaderModule, "loaded %d playbooks from %s", count, l.dir)
	return count, nil
}

func (l *Loader) loadFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var p entity.Playbook
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	l.applyScopeFromPath(&p, path)
	if err := Validate(&p); err != nil {
		return err
	}
	for _, w := range Analyze(&p) {
		logger.WarnX(loaderModule, "%s", w)
	}
	return l.repo.Save(ctx, &p)
}

func (l *Loader) applyScopeFromPath(p *entity.Playbook, path string) {
	rel, err := filepath.Rel(l.dir, path)
	if err != nil {
		return
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if p.Scope != "" || len(parts) < 2 {
		return
	}
	switch parts[0] {
	case "personal":
		p.Scope = entity.ScopePersonal
		if len(parts) >= 3 {
			p.OwnerPersonaID = parts[1]
		}
	case "building":
		p.Scope = entity.ScopeBuilding
		if len(parts) >= 3 {
			p.BuildingID = parts[1]
		}
	default:
		p.Scope = entity.ScopePublic
	}
}

// Watch starts watching the directory tree and hot-reloads changed files
// until the context is cancelled.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	err = filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		watcher.Close()
		return err
	}

	l.mu.Lock()
	l.watcher = watcher
	l.mu.Unlock()

	safego.Go(ctx, func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				l.handleEvent(ctx, watcher, event)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WarnX(loaderModule, "watch error: %v", err)
			}
		}
	})
	return nil
}

func (l *Loader) handleEvent(ctx context.Context, watcher *fsnotify.Watcher, event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
		// New scope directory; start watching it.
		if err := watcher.Add(event.Name); err != nil {
			logger.WarnX(loaderModule, "failed to watch %s: %v", event.Name, err)
		}
		return
	}
	if !strings.HasSuffix(event.Name, ".json") {
		return
	}
	if err := l.loadFile(ctx, event.Name); err != nil {
		logger.WarnX(loaderModule, "reload %s failed: %v", event.Name, err)
		return
	}
	logger.InfoX(loaderModule, "reloaded %s", event.Name)
}
