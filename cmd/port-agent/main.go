package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/port-labs/agent/internal/config"
	"github.com/port-labs/agent/internal/dispatch/gitlab"
	"github.com/port-labs/agent/internal/dispatch/webhook"
	"github.com/port-labs/agent/internal/expr"
	"github.com/port-labs/agent/internal/mapping"
	"github.com/port-labs/agent/internal/pipeline"
	"github.com/port-labs/agent/internal/portclient"
	kafkasource "github.com/port-labs/agent/internal/source/kafka"
	pollingsource "github.com/port-labs/agent/internal/source/polling"
	"github.com/port-labs/agent/internal/supervisor"
	"github.com/port-labs/agent/internal/transform"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := log.New(os.Stdout, "[port-agent] ", log.LstdFlags)

	store, err := mapping.Load(cfg.ControlThePayloadConfigPath)
	if err != nil {
		log.Fatalf("mapping: %v", err)
	}

	client := portclient.New(cfg.PortAPIBaseURL, cfg.PortClientID, cfg.PortClientSecret, cfg.WebhookInvokerTimeout, logger)
	secret := client.ClientSecret()

	engine := expr.New(logger)
	transformer := transform.New(engine, logger)
	webhookDispatcher := webhook.New(secret, cfg.WebhookInvokerTimeout, logger)
	gitlabDispatcher := gitlab.New(cfg.GitLabURL, cfg.GitLabPipelineInvokerTimeout, logger)

	runPipeline := pipeline.New(
		client, store, transformer, webhookDispatcher, gitlabDispatcher,
		secret, cfg.KafkaRunsTopic, cfg.KafkaChangelogTopic, logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}
	go func() {
		logger.Printf("metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server error: %v", err)
		}
	}()

	sourceAdapter := buildSourceAdapter(cfg, client, runPipeline, logger)
	sup := supervisor.New(string(cfg.StreamerName), client, sourceAdapter, logger)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	runErr := make(chan error, 1)
	go func() { runErr <- sup.Run(ctx) }()

	select {
	case <-stop:
		logger.Println("shutdown requested")
		cancel()
		<-runErr
	case err := <-runErr:
		if err != nil {
			logger.Printf("streamer exited: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("metrics server shutdown error: %v", err)
	}
}

func buildSourceAdapter(cfg config.Config, client *portclient.Client, runPipeline *pipeline.Pipeline, logger *log.Logger) supervisor.Adapter {
	if cfg.StreamerName == config.StreamerPolling {
		return pollingsource.New(pollingsource.Config{
			InstallationID:      cfg.PortOrgID,
			BatchSize:           cfg.PollingRunsBatchSize,
			Interval:            cfg.PollingInterval,
			MaxFailureDuration:  cfg.PollingMaxFailureDuration,
			DetailedLogging:     cfg.DetailedLogging,
			RunsTopic:           cfg.KafkaRunsTopic,
			BackoffInitial:      cfg.PollingInitialBackoff,
			BackoffMax:          cfg.PollingMaxBackoff,
			BackoffFactor:       cfg.PollingBackoffFactor,
			BackoffJitterFactor: cfg.PollingBackoffJitterFactor,
		}, client, runPipeline, logger)
	}

	kafkaCfg := kafkasource.Config{
		BootstrapServers: cfg.KafkaBootstrapServers,
		GroupID:          cfg.KafkaGroupID,
		SASLMechanism:    cfg.KafkaSASLMechanism,
		SessionTimeout:   cfg.KafkaSessionTimeout,
		StartOffset:      startOffsetFor(cfg.KafkaAutoOffsetReset),
		UseSASL:          !cfg.UsingLocalPortInstance,
		DetailedLogging:  cfg.DetailedLogging,
		RunsTopic:        cfg.KafkaRunsTopic,
		ChangelogTopic:   cfg.KafkaChangelogTopic,
	}
	if kafkaCfg.UseSASL {
		creds, err := client.GetKafkaCredentials(context.Background())
		if err != nil {
			log.Fatalf("kafka credentials: %v", err)
		}
		if len(creds.Brokers) > 0 {
			kafkaCfg.BootstrapServers = creds.Brokers[0]
		}
		kafkaCfg.Username = creds.Username
		kafkaCfg.Password = creds.Password
	}
	return kafkasource.New(kafkaCfg, runPipeline, logger)
}

func startOffsetFor(autoOffsetReset string) int64 {
	if autoOffsetReset == "latest" {
		return kafkago.LastOffset
	}
	return kafkago.FirstOffset
}
