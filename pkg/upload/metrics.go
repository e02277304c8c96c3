package upload

import "time"

// Chunk outcomes.
const (
	ChunkStored   = "stored"
	ChunkReplayed = "replayed"
	ChunkRejected = "rejected"
)

// Merge outcomes.
const (
	MergeCompleted = "completed"
	MergeFailed    = "failed"
)

// Metrics receives coordinator events. pkg/metrics provides the
// prometheus implementation.
type Metrics interface {
	// RecordChunk counts a PutChunk outcome and the bytes it stored
	RecordChunk(outcome string, bytes int64)

	// ObserveMerge records a merge outcome and its duration
	ObserveMerge(outcome string, duration time.Duration)

	// RecordExpired counts sessions reclaimed (or not) by SweepExpired
	RecordExpired(removed, failed int)
}

type noopMetrics struct{}

func (noopMetrics) RecordChunk(string, int64)          {}
func (noopMetrics) ObserveMerge(string, time.Duration) {}
func (noopMetrics) RecordExpired(int, int)             {}
