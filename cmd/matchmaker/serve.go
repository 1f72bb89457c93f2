package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/matchmaker/internal/api"
	"github.com/energizer-project/matchmaker/internal/cli"
	"github.com/energizer-project/matchmaker/internal/config"
	"github.com/energizer-project/matchmaker/internal/db"
	"github.com/energizer-project/matchmaker/internal/events"
	"github.com/energizer-project/matchmaker/internal/health"
	"github.com/energizer-project/matchmaker/internal/matchmaker"
	"github.com/energizer-project/matchmaker/internal/metrics"
	"github.com/energizer-project/matchmaker/internal/network"
	"github.com/energizer-project/matchmaker/internal/scheduler"
	"github.com/energizer-project/matchmaker/internal/telemetry"
	"github.com/energizer-project/matchmaker/internal/util"
)

func runServer(configDir, logLevel string) error {
	fmt.Printf(banner, version)
	fmt.Println()

	// Defaults until the config file has been read.
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Info().
		Str("version", version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting matchmaker")

	cfg, err := config.Load(configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if logLevel != "" {
		cfg.SetLogLevel(logLevel)
	}

	logging := cfg.GetLogging()
	if err := util.InitLogger(logging.LogConfig()); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, run 'matchmaker init' or fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()

	dbCfg := cfg.GetDatabase()
	store, err := db.NewAddressStore(dbCfg.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open address store")
	}
	defer store.Close()

	var (
		collector      *metrics.Collector
		metricsHandler http.Handler
	)
	if mc := cfg.GetMetrics(); mc.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		collector = metrics.New(metrics.Config{Namespace: mc.Namespace, Registry: reg})
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	srvCfg := cfg.GetServer()
	game := cfg.GetGame()
	transport := network.NewUDPTransport()
	router := network.NewRouter(network.RouterConfig{
		Host:      srvCfg.Host,
		Port:      srvCfg.Port,
		Transport: transport,
		Store:     store,
		Metrics:   collector,
		Bus:       eventBus,
	})

	service := matchmaker.New(matchmaker.Config{
		Secret:  game.Secret,
		Sender:  transport,
		Metrics: collector,
		Bus:     eventBus,
	})
	service.Register(router)

	if err := router.Start(ctx); err != nil {
		log.Fatal().Err(err).Int("port", srvCfg.Port).Msg("failed to bind matchmaker port")
	}

	sched := scheduler.NewScheduler(dbCfg, store, collector, eventBus)

	dataPath := dbCfg.Path
	if dataPath == db.MemoryPath {
		dataPath = ""
	}
	healthMgr := health.NewManager(health.Config{
		Router:   router,
		Store:    store,
		DataPath: dataPath,
		Bus:      eventBus,
	})

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := router.Run(ctx); err != nil {
			errCh <- fmt.Errorf("packet router: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting task scheduler")
		sched.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		healthMgr.Start(ctx)
	}()

	if apiCfg := cfg.GetAPI(); apiCfg.Enabled {
		apiServer := api.NewServer(apiCfg, api.Deps{
			Store:   store,
			Router:  router,
			Sweeper: sched,
			Health:  healthMgr,
			Bus:     eventBus,
			Metrics: metricsHandler,
			Game:    game,
			Version: version,
			LogDir:  logging.Directory,
			Debug:   logging.Level == "debug",
		})

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	if mqttCfg := cfg.GetMQTT(); mqttCfg.Enabled {
		mqttHandler, err := telemetry.NewMQTTHandler(mqttCfg, eventBus, version)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				log.Info().Msg("starting MQTT telemetry")
				if err := mqttHandler.Start(ctx); err != nil {
					log.Warn().Err(err).Msg("MQTT telemetry failed")
				}
			}()
		}
	}

	if alertsCfg := cfg.GetAlerts(); alertsCfg.Enabled {
		alerter := telemetry.NewWebhookAlerter(alertsCfg, eventBus, sysInfo.Hostname)
		wg.Add(1)
		go func() {
			defer wg.Done()
			alerter.Start(ctx)
		}()
	}

	quitCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main", func(ctx context.Context, e events.Event) error {
		select {
		case quitCh <- struct{}{}:
		default:
		}
		return nil
	})

	console := cli.NewCLI(cfg, eventBus, store, router, sched, os.Stdin, os.Stdout)
	go console.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-quitCh:
		log.Info().Msg("shutdown requested from console")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("shutdown timed out after 15 seconds, forcing exit")
	}

	router.Close()
	eventBus.Stop()

	log.Info().Msg("matchmaker stopped")
	return nil
}

// startWithRetry retries a start function that fails to bind, e.g. while a
// previous instance still holds the port.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err = startFn(ctx)
		if err == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil
		}

		log.Warn().Err(err).Str("component", name).Int("attempt", attempt).Msg("start failed, retrying")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(2 * time.Second):
		}
	}
	return err
}
