package external

import (
	"time"

	"github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"

	"keeper/config"
)

var sentryEnabled bool

func InitSentry() {
	if config.Config.Sentry.DSN != "" {
		log.Infof("Sentry init")

		err := sentry.Init(sentry.ClientOptions{
			Dsn:              config.Config.Sentry.DSN,
			Debug:            false,
			EnableTracing:    config.Config.Sentry.EnableTracing,
			TracesSampleRate: config.Config.Sentry.TracesSampleRate,
			SampleRate:       config.Config.Sentry.SampleRate,
			ServerName:       config.Config.Pyroscope.ApplicationName,
		})
		if err != nil {
			log.Errorf("Sentry Init Failed: %s", err)
			return
		}
		sentryEnabled = true
	}
}

// ReportError sends err to Sentry tagged with the failing operation. It is a
// no-op when Sentry is not configured.
func ReportError(operation string, err error) {
	if !sentryEnabled || err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("operation", operation)
		sentry.CaptureException(err)
	})
}

// FlushSentry waits up to timeout for queued events to be delivered
func FlushSentry(timeout time.Duration) {
	if sentryEnabled && !sentry.Flush(timeout) {
		log.Warnf("Sentry: some events were not delivered before exit")
	}
}
