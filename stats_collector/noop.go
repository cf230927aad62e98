package stats_collector

var _ StatsCollector = (*noopCollector)(nil)

type noopCollector struct{}

func (col *noopCollector) IncWrites(string, string)            {}
func (col *noopCollector) ObserveWriteLatency(string, float64) {}
func (col *noopCollector) SetQueueDepth(float64)               {}
func (col *noopCollector) IncQueueWarnings()                   {}
func (col *noopCollector) SetTokens(float64, float64)          {}
func (col *noopCollector) IncLoads(string, string)             {}
func (col *noopCollector) IncFlushes(string, string)           {}
func (col *noopCollector) AddAbandonedWrites(float64)          {}
func (col *noopCollector) SetActiveSessions(float64)           {}
func (col *noopCollector) IncApiRequests(string, string)       {}

func NewNoopStatsCollector() StatsCollector {
	return &noopCollector{}
}
