package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	ginlogrus "github.com/toorop/gin-logrus"

	"keeper/config"
	"keeper/external"
	"keeper/persistence"
	"keeper/session"
	"keeper/stats_collector"
	"keeper/store"
)

var statsCollector stats_collector.StatsCollector
var persistenceManager *persistence.Manager
var sessionManager *session.Manager

func main() {
	var wg sync.WaitGroup
	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()

	wg.Add(1)
	go func() {
		defer wg.Done()
		watchForShutdown(ctx, cancelFn)
	}()

	cfg, err := config.ReadConfig("config.toml")
	if err != nil {
		panic(err)
	}

	logLevel := log.InfoLevel

	// Both Sentry & Pyroscope are optional and off by default. Read more:
	// https://docs.sentry.io/platforms/go
	// https://pyroscope.io/docs/golang
	external.InitSentry()
	stopProfiler := external.InitPyroscope()
	defer stopProfiler()

	if cfg.Logging.Debug {
		logLevel = log.DebugLevel
	}
	SetupLogger(logLevel, cfg.Logging.SaveLogs)

	log.Infof("Keeper starting")

	backend, closeStore, err := store.Open(cfg.Store)
	if err != nil {
		log.Fatalf("failed to open %s store: %s", cfg.Store.Backend, err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Errorf("Error closing store: %s", err)
		}
	}()

	// Start the web server.
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// choose the statsCollector we will use.
	statsCollector = stats_collector.GetStatsCollector(cfg, r)

	persistenceManager = persistence.NewManager(persistenceConfig(cfg), backend, statsCollector, persistence.SystemClock)
	persistenceManager.Start(ctx)

	sessionManager = session.NewManager(persistenceManager, cfg.Session.IdleTimeout)
	for _, entity := range cfg.Session.Entities {
		if err := sessionManager.Register(entity.Name, session.CountersFactory(entity.Defaults)); err != nil {
			log.Fatalf("failed to register entity type: %s", err)
		}
	}
	log.Infof("Session entity types: %v", sessionManager.EntityTypes())

	wg.Add(1)
	go func() {
		defer wg.Done()
		sessionManager.Run(ctx)
	}()

	// Start the GRPC receiver
	if cfg.GrpcPort > 0 {
		startGrpcServer(ctx, &wg, cfg.GrpcPort, cfg.ApiSecret)
	}

	if cfg.Logging.Debug {
		r.Use(ginlogrus.Logger(log.StandardLogger()))
	} else {
		r.Use(gin.Recovery())
	}
	setupRoutes(r)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	wg.Add(1)
	go func() {
		defer cancelFn()
		defer wg.Done()

		log.Infof("http server listening on port %d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("Failed to listen and start http server: %s", err)
		}
	}()

	// wait for shutdown to be signaled in some way. This can be from a failure
	// to start the http server and/or watchForShutdown() saying it is time to
	// shutdown. (watchForShutdown() on unix waits for a SIGINT or SIGTERM)
	<-ctx.Done()

	log.Info("Starting shutdown...")

	// So now we attempt to shutdown the http server, telling it to wait for open requests to
	// finish for 5 seconds before just pulling the plug.
	shutdownCtx, shutdownCancelFn := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancelFn()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		if err == context.DeadlineExceeded {
			log.Warn("Graceful shutdown timed out, exiting.")
		} else {
			log.Errorf("Error during http server shutdown: %s", err)
		}
	}

	// wait for other started goroutines to cleanup and exit before we flush the
	// write queue and exit the program.
	log.Info("http server is shutdown, waiting for other go routines to exit...")
	wg.Wait()

	log.Infof("go routines have exited, flushing queued writes of %d active sessions now...", sessionManager.ActiveCount())
	summary := persistenceManager.Shutdown(context.Background())
	if err := summary.Err(); err != nil {
		external.ReportError("shutdown_flush", err)
	}
	external.FlushSentry(2 * time.Second)

	log.Info("Keeper exiting!")
}

func persistenceConfig(cfg config.Definition) persistence.Config {
	p := cfg.Persistence
	return persistence.Config{
		BaseCapacity:       p.BaseCapacity,
		PerSessionCapacity: p.PerSessionCapacity,
		RegenInterval:      p.RegenInterval,
		WriteSpacing:       p.WriteSpacing,
		WriteTimeout:       p.WriteTimeout,
		NoTokenWait:        p.NoTokenWait,
		IdleWait:           p.IdleWait,
		QueueWarnThreshold: p.QueueWarnThreshold,
		WarnInterval:       p.WarnInterval,
		LoadAttempts:       p.LoadAttempts,
		LoadBackoff:        p.LoadBackoff,
		FlushBudget:        p.FlushBudget,
	}
}
