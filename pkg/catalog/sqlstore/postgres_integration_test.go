//go:build integration

package sqlstore

import (
	"context"
	"os"
	"testing"

	"github.com/marmos91/dittomedia/pkg/catalog"
	catalogtesting "github.com/marmos91/dittomedia/pkg/catalog/testing"
	"github.com/stretchr/testify/require"
)

// TestPostgresCatalog runs the conformance suite against POSTGRES_DSN. Each
// subtest truncates the tables so runs are independent.
func TestPostgresCatalog(t *testing.T) {
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set")
	}

	suite := &catalogtesting.CatalogTestSuite{
		NewCatalog: func(t *testing.T) catalog.Catalog {
			store, err := New(context.Background(), Config{Driver: DriverPostgres, DSN: dsn})
			require.NoError(t, err)
			_, err = store.DB().Exec(`TRUNCATE files, pending_deletions, upload_sessions, upload_chunks, storage_configs`)
			require.NoError(t, err)
			return store
		},
	}
	suite.Run(t)
}
