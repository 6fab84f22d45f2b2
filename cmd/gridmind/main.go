package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/gridmind/gridmind/internal/actuation"
	"github.com/gridmind/gridmind/internal/breaker"
	"github.com/gridmind/gridmind/internal/config"
	"github.com/gridmind/gridmind/internal/decide"
	"github.com/gridmind/gridmind/internal/httpapi"
	"github.com/gridmind/gridmind/internal/knowledge"
	"github.com/gridmind/gridmind/internal/logging"
	"github.com/gridmind/gridmind/internal/model"
	"github.com/gridmind/gridmind/internal/observability"
	"github.com/gridmind/gridmind/internal/orchestrator"
	"github.com/gridmind/gridmind/internal/reasoning"
	"github.com/gridmind/gridmind/internal/simulate"
	"github.com/gridmind/gridmind/internal/telemetry"
	"github.com/gridmind/gridmind/internal/weather"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		lg, _ := logging.Init("", false)
		lg.Error("config", "error", err)
		os.Exit(1)
	}

	lg, lf := logging.Init(cfg.LogFile, os.Getenv("GRIDMIND_VERBOSE") != "")
	if lf != nil {
		defer lf.Close()
	}
	lg.Info("gridmind starting", "buildings", len(cfg.Buildings), "httpBind", cfg.HTTPBind)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := clockwork.NewRealClock()

	store := knowledge.Open(cfg.KnowledgePath, lg)
	defer store.Close()

	var embedder knowledge.Embedder
	if cfg.EmbeddingURL != "" {
		embedder = knowledge.NewHTTPEmbedder(cfg.EmbeddingURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDims)
	} else {
		embedder = knowledge.NewHashEmbedder(cfg.EmbeddingDims)
	}
	if err := knowledge.EnsureDefaultCollections(ctx, store, embedder.Dims()); err != nil {
		lg.Error("knowledge collections", "error", err)
		os.Exit(1)
	}
	if cfg.SeedKnowledge {
		if err := knowledge.Seed(ctx, store, embedder, lg); err != nil {
			lg.Warn("knowledge seed failed", "error", err)
		}
	}

	tariff, err := decimal.NewFromString(cfg.TariffPerKWh)
	if err != nil {
		lg.Error("invalid tariff", "value", cfg.TariffPerKWh, "error", err)
		os.Exit(1)
	}
	simulator := simulate.New(nil, tariff, cfg.Currency)
	analyst := reasoning.NewAnalyst(nil, simulator, embedder, clock, lg)

	engine := decide.New(decide.Thresholds{
		ExecuteConfidence:   cfg.ExecuteConfidence,
		RecommendConfidence: cfg.RecommendConfidence,
		MinSavingsFraction:  cfg.MinSavingsFraction,
	}, clock)

	var actuator actuation.Actuator
	if cfg.BMSBaseURL != "" {
		brk := breaker.New("bms", breaker.DefaultConfig(), nil, clock, lg)
		actuator = actuation.NewClient(cfg.BMSBaseURL, brk, lg)
	} else {
		lg.Info("no BMS endpoint configured, using simulated actuator")
		actuator = actuation.NewSimulated(lg)
	}

	var forecaster weather.Provider
	if cfg.WeatherURL != "" {
		brk := breaker.New("weather", breaker.DefaultConfig(), nil, clock, lg)
		client := weather.NewClient(cfg.WeatherURL, cfg.WeatherAPIKey, brk, cfg.WeatherTTL, lg)
		defer client.Close()
		forecaster = client
	} else {
		lg.Info("no weather endpoint configured, using static snapshot")
		forecaster = weather.Static{Snapshot: model.WeatherSnapshot{TemperatureC: 24, HumidityPct: 50, Confidence: 0.5}}
	}

	var source telemetry.Source
	if len(cfg.KafkaBrokers) > 0 {
		feed, err := telemetry.NewFeed(telemetry.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.ObservationTopic,
			GroupID: cfg.KafkaGroupID,
		}, lg)
		if err != nil {
			lg.Error("telemetry", "error", err)
			os.Exit(1)
		}
		feed.Start(ctx)
		defer feed.Close()
		source = feed
	} else {
		lg.Warn("no kafka brokers configured, starting with an empty telemetry source")
		source = telemetry.NewStatic()
	}

	metrics := observability.NewMetrics()

	orc, err := orchestrator.New(orchestrator.Config{
		Buildings:        cfg.Buildings,
		TopK:             cfg.TopK,
		AnomalyThreshold: cfg.AnomalyThreshold,
		DecisionGate:     cfg.DecisionGate,
		Workers:          cfg.Workers,
		CycleInterval:    cfg.CycleInterval,
		MaxCycles:        cfg.MaxCycles,
	}, orchestrator.Deps{
		Source:   source,
		Weather:  forecaster,
		Reasoner: analyst,
		Actuator: actuator,
		Engine:   engine,
		Store:    store,
		Embedder: embedder,
		Metrics:  metrics,
		Clock:    clock,
		Logger:   lg,
	})
	if err != nil {
		lg.Error("orchestrator", "error", err)
		os.Exit(1)
	}

	srv := httpapi.NewServer(httpapi.New(orc, metrics, lg), cfg.HTTPBind)
	go func() {
		if err := srv.Start(); err != nil {
			lg.Error("http", "error", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := orc.Run(ctx); err != nil && ctx.Err() == nil {
			lg.Error("run", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		lg.Info("signal received, stopping")
	case <-done:
		lg.Info("run finished")
	}

	orc.Stop()
	cancel()
	<-done

	sh, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	_ = srv.Shutdown(sh)
	lg.Info("gridmind stopped", "stats", orc.Stats())
}
