package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/marmos91/dittomedia/pkg/content"
	"github.com/marmos91/dittomedia/pkg/gc"
	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/marmos91/dittomedia/pkg/storage"
	"github.com/marmos91/dittomedia/pkg/upload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestStorageMetrics(t *testing.T) {
	m := newStorageMetrics(prometheus.NewRegistry())

	m.ObserveOperation("s3", storage.OpUpload, 20*time.Millisecond, nil)
	m.ObserveOperation("s3", storage.OpUpload, time.Millisecond, media.BackendError("s3", "upload", "k", errors.New("denied")))
	m.ObserveOperation("s3", storage.OpDelete, time.Millisecond, errors.New("plain"))
	m.RecordBytes("s3", storage.OpUpload, 1024)
	m.RecordBytes("s3", storage.OpUpload, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("s3", storage.OpUpload, "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("s3", storage.OpUpload, "backend")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("s3", storage.OpDelete, "error")))
	assert.Equal(t, 1024.0, testutil.ToFloat64(m.bytes.WithLabelValues("s3", storage.OpUpload)))
}

func TestContentMetrics(t *testing.T) {
	m := newContentMetrics(prometheus.NewRegistry())

	m.RecordPut(content.PutStored, 100)
	m.RecordPut(content.PutDeduplicated, 100)
	m.RecordPut(content.PutDeduplicated, 50)
	m.RecordRelease(content.ReleaseDeferred)
	m.RecordSweep(content.SweepUnreferenced, 3, 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.puts.WithLabelValues(content.PutDeduplicated)))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.putBytes.WithLabelValues(content.PutDeduplicated)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.releases.WithLabelValues(content.ReleaseDeferred)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.swept.WithLabelValues(content.SweepUnreferenced, "removed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.swept.WithLabelValues(content.SweepUnreferenced, "failed")))
}

func TestUploadMetrics(t *testing.T) {
	m := newUploadMetrics(prometheus.NewRegistry())

	m.RecordChunk(upload.ChunkStored, 10)
	m.RecordChunk(upload.ChunkReplayed, 0)
	m.ObserveMerge(upload.MergeCompleted, time.Second)
	m.RecordExpired(30, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.chunks.WithLabelValues(upload.ChunkReplayed)))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.chunkBytes))
	assert.Equal(t, 1, testutil.CollectAndCount(m.merges))
	assert.Equal(t, 30.0, testutil.ToFloat64(m.expired.WithLabelValues("removed")))
}

func TestGCMetrics(t *testing.T) {
	m := newGCMetrics(prometheus.NewRegistry())
	end := time.Unix(1_700_000_000, 0)

	m.ObserveRun(&gc.Stats{StartTime: end.Add(-time.Second), EndTime: end, Unreferenced: 4}, nil)
	m.ObserveRun(&gc.Stats{StartTime: end, EndTime: end, Failed: 2}, errors.New("x"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("error")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.items.WithLabelValues("unreferenced")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.items.WithLabelValues("failed")))
	assert.Equal(t, float64(end.Unix()), testutil.ToFloat64(m.lastRun))
}

func TestConstructorsReturnNilWhenDisabled(t *testing.T) {
	// The global registry is never initialized in this package's tests.
	assert.Nil(t, NewStorageMetrics())
	assert.Nil(t, NewContentMetrics())
	assert.Nil(t, NewUploadMetrics())
	assert.Nil(t, NewGCMetrics())
}
