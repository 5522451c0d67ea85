package metrics

// Collector wraps metrics and provides helper methods with pre-filled labels.
type Collector struct {
	job string
}

// NewCollector creates a new Collector for the given job.
func NewCollector(job string) *Collector {
	return &Collector{job: job}
}

// IncSubmitted increments the submitted counter.
func (c *Collector) IncSubmitted() {
	UnitsSubmittedTotal.WithLabelValues(c.job).Inc()
}

// IncCompleted increments the completed counter.
func (c *Collector) IncCompleted() {
	UnitsCompletedTotal.WithLabelValues(c.job).Inc()
}

// IncFailed increments the failed counter.
func (c *Collector) IncFailed() {
	UnitsFailedTotal.WithLabelValues(c.job).Inc()
}

// IncRetries increments the retries counter.
func (c *Collector) IncRetries() {
	RetriesTotal.WithLabelValues(c.job).Inc()
}

// IncPollErrors increments the poll errors counter.
func (c *Collector) IncPollErrors() {
	PollErrorsTotal.WithLabelValues(c.job).Inc()
}

// IncThrottled increments the throttled counter.
func (c *Collector) IncThrottled() {
	ThrottledTotal.WithLabelValues(c.job).Inc()
}

// IncTaskNotFound increments the not-found counter.
func (c *Collector) IncTaskNotFound() {
	TaskNotFoundTotal.WithLabelValues(c.job).Inc()
}

// IncPrepareFailures increments the prepare failures counter.
func (c *Collector) IncPrepareFailures() {
	PrepareFailuresTotal.WithLabelValues(c.job).Inc()
}

// SetInFlight sets the in-flight gauge.
func (c *Collector) SetInFlight(count int) {
	InFlightTasks.WithLabelValues(c.job).Set(float64(count))
}

// SetBacklog sets the backlog gauge.
func (c *Collector) SetBacklog(count int) {
	BacklogUnits.WithLabelValues(c.job).Set(float64(count))
}

// SetHighestProgress sets the highest progress gauge.
func (c *Collector) SetHighestProgress(ratio float64) {
	HighestProgress.WithLabelValues(c.job).Set(ratio)
}

// ObserveUnitDuration records the running time of a finished unit.
// outcome is "completed" or "failed".
func (c *Collector) ObserveUnitDuration(outcome string, seconds float64) {
	UnitDuration.WithLabelValues(c.job, outcome).Observe(seconds)
}
