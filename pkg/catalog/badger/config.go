package badger

import (
	"context"
	"encoding/json"
	"errors"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/dittomedia/pkg/media"
)

func (s *Store) PutStorageConfig(ctx context.Context, cfg *media.StorageConfig) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		stored := cfg.Clone()
		now := s.now()

		var existing media.StorageConfig
		err := getJSON(txn, keyConfig(cfg.ID), &existing)
		switch {
		case err == nil:
			stored.CreatedAt = existing.CreatedAt
		case errors.Is(err, badger.ErrKeyNotFound):
			if stored.CreatedAt.IsZero() {
				stored.CreatedAt = now
			}
		default:
			return err
		}
		stored.UpdatedAt = now

		if stored.IsDefault {
			var others []*media.StorageConfig
			err := scan(txn, []byte(prefixConfig), func(val []byte) error {
				var other media.StorageConfig
				if err := json.Unmarshal(val, &other); err != nil {
					return err
				}
				if other.ID != stored.ID && other.IsDefault && other.SameScope(stored) {
					others = append(others, &other)
				}
				return nil
			})
			if err != nil {
				return err
			}
			for _, other := range others {
				other.IsDefault = false
				other.UpdatedAt = now
				if err := setJSON(txn, keyConfig(other.ID), other); err != nil {
					return err
				}
			}
		}

		return setJSON(txn, keyConfig(stored.ID), stored)
	})
}

func (s *Store) GetStorageConfig(ctx context.Context, id string) (*media.StorageConfig, error) {
	var cfg media.StorageConfig
	err := s.view(ctx, func(txn *badger.Txn) error {
		err := getJSON(txn, keyConfig(id), &cfg)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return media.NotFound("storage config not found", id)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Store) GetDefaultStorageConfig(ctx context.Context) (*media.StorageConfig, error) {
	return s.defaultFor(ctx, "")
}

func (s *Store) GetTenantStorageConfig(ctx context.Context, tenantID string) (*media.StorageConfig, error) {
	if tenantID == "" {
		return nil, media.NotFound("empty tenant id", "")
	}
	return s.defaultFor(ctx, tenantID)
}

func (s *Store) defaultFor(ctx context.Context, tenantID string) (*media.StorageConfig, error) {
	all, err := s.ListStorageConfigs(ctx)
	if err != nil {
		return nil, err
	}
	for _, cfg := range all {
		if cfg.IsDefault && cfg.TenantID == tenantID {
			return cfg, nil
		}
	}
	return nil, media.NotFound("no default storage config", tenantID)
}

// ListStorageConfigs returns configs in key (and therefore id) order.
func (s *Store) ListStorageConfigs(ctx context.Context) ([]*media.StorageConfig, error) {
	var out []*media.StorageConfig
	err := s.view(ctx, func(txn *badger.Txn) error {
		return scan(txn, []byte(prefixConfig), func(val []byte) error {
			var cfg media.StorageConfig
			if err := json.Unmarshal(val, &cfg); err != nil {
				return err
			}
			out = append(out, &cfg)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeleteStorageConfig(ctx context.Context, id string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(keyConfig(id)); errors.Is(err, badger.ErrKeyNotFound) {
			return media.NotFound("storage config not found", id)
		} else if err != nil {
			return err
		}
		return txn.Delete(keyConfig(id))
	})
}
