package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/agentrelay/agentrelay/internal/agent"
	"github.com/agentrelay/agentrelay/internal/api"
	"github.com/agentrelay/agentrelay/internal/broker"
	"github.com/agentrelay/agentrelay/internal/gateway"
	"github.com/agentrelay/agentrelay/pkg/call"
	"github.com/agentrelay/agentrelay/pkg/config"
	"github.com/agentrelay/agentrelay/pkg/health"
	"github.com/agentrelay/agentrelay/pkg/logging"
	"github.com/agentrelay/agentrelay/pkg/metrics"
	"github.com/agentrelay/agentrelay/pkg/tracing"
)

func main() {
	// .env is optional; real deployments use environment variables
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	tracer, err := tracing.NewTracingService(&tracing.Config{
		ServiceName:    "agentrelay",
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	redisClient, err := broker.NewRedisClient(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	logger.Info("Redis connection established", "addr", cfg.RedisAddr())

	hub := broker.NewHub(redisClient)
	defer hub.Close()

	registry := broker.NewRegistry(redisClient, cfg.Agents.HeartbeatInterval*3)

	m := metrics.NewMetrics(metrics.DefaultConfig())
	recorder := metrics.NewRecorder(m)

	generation, err := call.NewAnthropicTransport(call.AnthropicConfig{
		APIKey:      cfg.AI.APIKey,
		Model:       cfg.AI.Model,
		MaxTokens:   int(cfg.AI.MaxTokens),
		Temperature: cfg.AI.Temperature,
	})
	if err != nil {
		log.Fatalf("Failed to create AI transport: %v", err)
	}

	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL: cfg.Gateway.BaseURL,
		Timeout: cfg.Gateway.Timeout,
		APIKey:  cfg.Gateway.APIKey,
	})
	gatewayClient.SetHTTPClient(tracer.InstrumentHTTPClient(&http.Client{Timeout: cfg.Gateway.Timeout}))

	factory := agent.NewFactory(cfg, recorder, m, hub, registry, generation, gatewayClient)

	managers := make(map[string]*agent.Manager, len(cfg.Agents.Enabled))
	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	for _, agentType := range cfg.Agents.Enabled {
		mgr, err := factory.BuildAgent(agentType)
		if err != nil {
			log.Fatalf("Failed to build %s agent: %v", agentType, err)
		}
		if err := mgr.Initialize(startCtx); err != nil {
			log.Fatalf("Failed to initialize %s agent: %v", agentType, err)
		}
		managers[agentType] = mgr
		logger.Info("Agent started", "agent_type", agentType, "agent_id", mgr.AgentID())
	}
	startCancel()

	healthSvc := health.NewService(logger, health.DefaultConfig())
	healthSvc.RegisterChecker(health.NewRedisChecker("redis", redisClient.Client()))
	healthSvc.RegisterChecker(health.NewHTTPChecker("gateway", cfg.Gateway.BaseURL+"/health", 3*time.Second))
	healthSvc.RegisterChecker(health.NewPeerChecker("peers", registry))
	healthSvc.RegisterChecker(health.NewErrorRateChecker("error_rate", recorder, 0.1, 0.5))
	healthSvc.RegisterChecker(health.NewHeapChecker("heap", 1<<30, 0.8, 0.95))

	apiServer := api.NewServer(managers, healthSvc, m, recorder, logger)
	router := apiServer.Router(tracer.TracingMiddleware())

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting API server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err.Error())
	}

	for agentType, mgr := range managers {
		if err := mgr.Shutdown(ctx); err != nil {
			logger.Error("Agent shutdown failed", "agent_type", agentType, "error", err.Error())
		}
	}

	if err := tracer.Shutdown(ctx); err != nil {
		logger.Error("Tracing shutdown failed", "error", err.Error())
	}

	logger.Info("Shutdown complete")
}
