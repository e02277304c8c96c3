package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/marmos91/dittomedia/pkg/media"
)

const configColumns = `id, name, driver, options, cdn_domain, is_default, tenant_id,
	requests_per_second, burst, created_at, updated_at`

func scanConfig(row rowScanner) (*media.StorageConfig, error) {
	var (
		cfg              media.StorageConfig
		options          string
		created, updated int64
	)
	err := row.Scan(&cfg.ID, &cfg.Name, &cfg.Driver, &options, &cfg.CDNDomain, &cfg.IsDefault,
		&cfg.TenantID, &cfg.RateLimit.RequestsPerSecond, &cfg.RateLimit.Burst, &created, &updated)
	if err != nil {
		return nil, err
	}
	if options != "" && options != "{}" {
		if err := json.Unmarshal([]byte(options), &cfg.Options); err != nil {
			return nil, fmt.Errorf("decode options of %s: %w", cfg.ID, err)
		}
	}
	cfg.CreatedAt = fromNanos(created)
	cfg.UpdatedAt = fromNanos(updated)
	return &cfg, nil
}

// PutStorageConfig upserts cfg. Clearing the previous default of the scope
// and writing cfg happen in one transaction.
func (s *Store) PutStorageConfig(ctx context.Context, cfg *media.StorageConfig) error {
	options := []byte("{}")
	if len(cfg.Options) > 0 {
		var err error
		if options, err = json.Marshal(cfg.Options); err != nil {
			return media.Validationf(cfg.ID, "storage config options are not serializable: %v", err)
		}
	}

	return s.withTx(ctx, func(tx querier) error {
		now := toNanos(s.now())
		created := now
		if !cfg.CreatedAt.IsZero() {
			created = toNanos(cfg.CreatedAt)
		}

		if cfg.IsDefault {
			if _, err := tx.ExecContext(ctx, s.q(`UPDATE storage_configs
				SET is_default = ?, updated_at = ?
				WHERE tenant_id = ? AND id <> ? AND is_default = ?`),
				false, now, cfg.TenantID, cfg.ID, true); err != nil {
				return fmt.Errorf("clear default of scope %q: %w", cfg.TenantID, err)
			}
		}

		_, err := tx.ExecContext(ctx, s.q(`INSERT INTO storage_configs (`+configColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name,
				driver = excluded.driver,
				options = excluded.options,
				cdn_domain = excluded.cdn_domain,
				is_default = excluded.is_default,
				tenant_id = excluded.tenant_id,
				requests_per_second = excluded.requests_per_second,
				burst = excluded.burst,
				updated_at = excluded.updated_at`),
			cfg.ID, cfg.Name, cfg.Driver, string(options), cfg.CDNDomain, cfg.IsDefault, cfg.TenantID,
			cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, created, now)
		if err != nil {
			return fmt.Errorf("upsert storage config %s: %w", cfg.ID, err)
		}
		return nil
	})
}

func (s *Store) GetStorageConfig(ctx context.Context, id string) (*media.StorageConfig, error) {
	return s.getConfig(ctx, `WHERE id = ?`, id)
}

func (s *Store) GetDefaultStorageConfig(ctx context.Context) (*media.StorageConfig, error) {
	return s.getConfig(ctx, `WHERE tenant_id = '' AND is_default = ?`, true)
}

func (s *Store) GetTenantStorageConfig(ctx context.Context, tenantID string) (*media.StorageConfig, error) {
	if tenantID == "" {
		return nil, media.NotFound("empty tenant id", "")
	}
	return s.getConfig(ctx, `WHERE tenant_id = ? AND is_default = ?`, tenantID, true)
}

func (s *Store) getConfig(ctx context.Context, where string, args ...any) (*media.StorageConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg, err := scanConfig(s.db.QueryRowContext(ctx, s.q(`SELECT `+configColumns+` FROM storage_configs `+where+` ORDER BY id LIMIT 1`), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, media.NotFound("storage config not found", fmt.Sprint(args[0]))
	}
	if err != nil {
		return nil, fmt.Errorf("select storage config: %w", err)
	}
	return cfg, nil
}

func (s *Store) ListStorageConfigs(ctx context.Context) ([]*media.StorageConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+configColumns+` FROM storage_configs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list storage configs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*media.StorageConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (s *Store) DeleteStorageConfig(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM storage_configs WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete storage config %s: %w", id, err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return media.NotFound("storage config not found", id)
	}
	return nil
}
