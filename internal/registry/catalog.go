package registry

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/renameio"
	"github.com/rs/zerolog"

	"proofduck/internal/backend"
	"proofduck/internal/common/fsutil"
	"proofduck/pkg/types"
)

// Content is the read side of the URL content cache.
type Content interface {
	Keys(ctx context.Context) ([]string, error)
	Get(ctx context.Context, url string) ([]byte, error)
}

// CatalogConfig configures a Catalog.
type CatalogConfig struct {
	// ModelsDir is scanned for *.gguf files.
	ModelsDir string
	// CacheDir receives model files materialized from Content.
	CacheDir string
	// Content is optional.
	Content Content
	Logger  zerolog.Logger
}

// Catalog lists local models and resolves model ids to files on disk.
type Catalog struct {
	cfg CatalogConfig
	log zerolog.Logger

	mu     sync.RWMutex
	models []types.Model
}

// NewCatalog builds a catalog. Call Refresh to scan.
func NewCatalog(cfg CatalogConfig) *Catalog {
	return &Catalog{cfg: cfg, log: cfg.Logger}
}

// Refresh rescans ModelsDir and CacheDir, then adds every cached .gguf in
// Content that is not on disk yet. A missing directory yields no models
// rather than an error.
func (c *Catalog) Refresh(ctx context.Context) error {
	var all []types.Model
	seen := map[string]bool{}
	for _, dir := range []string{c.cfg.ModelsDir, c.cfg.CacheDir} {
		if dir == "" {
			continue
		}
		expanded, err := fsutil.ExpandHome(dir)
		if err != nil {
			return err
		}
		if !fsutil.PathExists(expanded) {
			continue
		}
		models, err := LoadDir(expanded)
		if err != nil {
			return err
		}
		for _, m := range models {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			all = append(all, m)
		}
	}
	cached, err := c.cachedModels(ctx)
	if err != nil {
		return err
	}
	for _, m := range cached {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		all = append(all, m)
	}
	c.mu.Lock()
	c.models = all
	c.mu.Unlock()
	c.log.Debug().Int("models", len(all)).Int("cached", len(cached)).Msg("catalog event=refresh")
	return nil
}

// cachedModels lists the .gguf entries of Content. They carry no Path until
// ResolveModel writes them to CacheDir.
func (c *Catalog) cachedModels(ctx context.Context) ([]types.Model, error) {
	if c.cfg.Content == nil {
		return nil, nil
	}
	keys, err := c.cfg.Content.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cached content: %w", err)
	}
	var models []types.Model
	for _, k := range keys {
		name := path.Base(k)
		if !strings.EqualFold(path.Ext(name), Ext) {
			continue
		}
		id := modelID(name)
		models = append(models, types.Model{ID: id, Name: id, Family: Family(id)})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// List returns a copy of the scanned models.
func (c *Catalog) List() []types.Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]types.Model(nil), c.models...)
}

func (c *Catalog) lookup(id string) (types.Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.models {
		if m.Path == "" {
			continue
		}
		if m.ID == id || filepath.Base(m.Path) == id {
			return m, true
		}
	}
	return types.Model{}, false
}

// ResolveModel returns the path of the GGUF file for id. Lookup order: the
// scanned catalog, a rescan, then a cached .gguf whose URL contains id,
// which is written to CacheDir.
func (c *Catalog) ResolveModel(ctx context.Context, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", backend.ErrModelNotFound(id)
	}
	if m, ok := c.lookup(id); ok {
		return m.Path, nil
	}
	if err := c.Refresh(ctx); err != nil {
		c.log.Warn().Err(err).Msg("catalog event=refresh_failed")
	} else if m, ok := c.lookup(id); ok {
		return m.Path, nil
	}
	p, err := c.materialize(ctx, id)
	if err != nil {
		return "", err
	}
	if p == "" {
		return "", backend.ErrModelNotFound(id)
	}
	return p, nil
}

// materialize copies a cached model file out of Content. It returns an empty
// path when nothing matches.
func (c *Catalog) materialize(ctx context.Context, id string) (string, error) {
	if c.cfg.Content == nil || c.cfg.CacheDir == "" {
		return "", nil
	}
	keys, err := c.cfg.Content.Keys(ctx)
	if err != nil {
		return "", fmt.Errorf("list cached content: %w", err)
	}
	var url string
	for _, k := range keys {
		if strings.Contains(k, id) && strings.EqualFold(path.Ext(k), Ext) {
			url = k
			break
		}
	}
	if url == "" {
		return "", nil
	}
	dir, err := fsutil.ExpandHome(c.cfg.CacheDir)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(dir, id+Ext)
	if fsutil.PathExists(dst) {
		return dst, nil
	}
	body, err := c.cfg.Content.Get(ctx, url)
	if err != nil {
		return "", fmt.Errorf("read cached model: %w", err)
	}
	if err := fsutil.EnsureDir(dir); err != nil {
		return "", err
	}
	if err := renameio.WriteFile(dst, body, 0o644); err != nil {
		return "", fmt.Errorf("write model file: %w", err)
	}
	c.log.Info().Str("model", id).Str("url", url).Int("bytes", len(body)).Msg("catalog event=materialized")
	if err := c.Refresh(ctx); err != nil {
		c.log.Warn().Err(err).Msg("catalog event=refresh_failed")
	}
	return dst, nil
}
