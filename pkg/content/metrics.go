package content

// Put outcomes reported to Metrics.
const (
	PutStored       = "stored"
	PutDeduplicated = "deduplicated"
)

// Release outcomes reported to Metrics.
const (
	ReleaseNoop        = "noop"
	ReleaseDecremented = "decremented"
	ReleaseDeleted     = "deleted"
	ReleaseDeferred    = "deferred"
	ReleaseForced      = "forced"
)

// Sweep kinds reported to Metrics.
const (
	SweepUnreferenced = "unreferenced"
	SweepPending      = "pending_deletions"
)

// Metrics provides observability for the content store.
//
// This is optional. A nil Metrics in Config falls back to a no-op
// implementation; pkg/metrics provides the Prometheus one.
type Metrics interface {
	// RecordPut counts a Put by outcome with the size of the content
	RecordPut(outcome string, bytes int64)

	// RecordRelease counts a Release by outcome
	RecordRelease(outcome string)

	// RecordSweep records one sweep pass
	RecordSweep(kind string, removed, failed int)
}

type noopMetrics struct{}

func (noopMetrics) RecordPut(string, int64)      {}
func (noopMetrics) RecordRelease(string)         {}
func (noopMetrics) RecordSweep(string, int, int) {}
