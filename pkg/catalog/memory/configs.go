package memory

import (
	"context"
	"sort"

	"github.com/marmos91/dittomedia/pkg/media"
)

func (c *Catalog) PutStorageConfig(ctx context.Context, cfg *media.StorageConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	stored := cfg.Clone()
	now := c.now()
	if existing, ok := c.configs[cfg.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	if stored.IsDefault {
		for id, other := range c.configs {
			if id != stored.ID && other.IsDefault && other.SameScope(stored) {
				other.IsDefault = false
				other.UpdatedAt = now
			}
		}
	}
	c.configs[stored.ID] = stored
	return nil
}

func (c *Catalog) GetStorageConfig(ctx context.Context, id string) (*media.StorageConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cfg, ok := c.configs[id]
	if !ok {
		return nil, media.NotFound("storage config not found", id)
	}
	return cfg.Clone(), nil
}

func (c *Catalog) GetDefaultStorageConfig(ctx context.Context) (*media.StorageConfig, error) {
	return c.defaultFor(ctx, "")
}

func (c *Catalog) GetTenantStorageConfig(ctx context.Context, tenantID string) (*media.StorageConfig, error) {
	if tenantID == "" {
		return nil, media.NotFound("empty tenant id", "")
	}
	return c.defaultFor(ctx, tenantID)
}

func (c *Catalog) defaultFor(ctx context.Context, tenantID string) (*media.StorageConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, cfg := range c.configs {
		if cfg.IsDefault && cfg.TenantID == tenantID {
			return cfg.Clone(), nil
		}
	}
	return nil, media.NotFound("no default storage config", tenantID)
}

func (c *Catalog) ListStorageConfigs(ctx context.Context) ([]*media.StorageConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*media.StorageConfig, 0, len(c.configs))
	for _, cfg := range c.configs {
		out = append(out, cfg.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *Catalog) DeleteStorageConfig(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.configs[id]; !ok {
		return media.NotFound("storage config not found", id)
	}
	delete(c.configs, id)
	return nil
}
