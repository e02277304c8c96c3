package gc

// Metrics receives maintenance run outcomes.
type Metrics interface {
	ObserveRun(stats *Stats, err error)
}

type noopMetrics struct{}

func (noopMetrics) ObserveRun(*Stats, error) {}
