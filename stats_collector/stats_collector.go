package stats_collector

import (
	"github.com/Depado/ginprom"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"keeper/config"
)

type StatsCollector interface {
	IncWrites(entityType, status string)
	ObserveWriteLatency(entityType string, seconds float64)
	SetQueueDepth(depth float64)
	IncQueueWarnings()
	SetTokens(available, capacity float64)
	IncLoads(entityType, outcome string)
	IncFlushes(kind, status string)
	AddAbandonedWrites(count float64)
	SetActiveSessions(count float64)
	IncApiRequests(api, status string)
}

type Config interface {
	GetPrometheus() config.Prometheus
}

func GetStatsCollector(cfg Config, ginEngine *gin.Engine) StatsCollector {
	promSettings := cfg.GetPrometheus()
	if !promSettings.Enabled {
		return NewNoopStatsCollector()
	}
	log.Infof("Prometheus init")
	if ginEngine != nil {
		p := ginprom.New(
			ginprom.Engine(ginEngine),
			ginprom.Subsystem("gin"),
			ginprom.Path("/metrics"),
			ginprom.Token(promSettings.Token),
			ginprom.BucketSize(promSettings.BucketSize),
		)
		ginEngine.Use(p.Instrument())
	}
	return NewPrometheusCollector()
}
