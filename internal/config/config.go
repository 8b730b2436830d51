// Package config centralises configuration parsing for the agent.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Streamer selects which source adapter the supervisor runs.
type Streamer string

const (
	StreamerKafka   Streamer = "KAFKA"
	StreamerPolling Streamer = "POLLING"
)

// Config captures runtime configuration values for the agent.
type Config struct {
	StreamerName Streamer

	PortOrgID       string
	PortAPIBaseURL  string
	PortClientID    string
	PortClientSecret string

	UsingLocalPortInstance bool

	KafkaBootstrapServers string
	KafkaGroupID          string
	KafkaSecurityProtocol string
	KafkaSASLMechanism    string
	KafkaSessionTimeout   time.Duration
	KafkaAutoOffsetReset  string
	KafkaRunsTopic        string
	KafkaChangelogTopic   string

	PollingRunsBatchSize              int
	PollingInterval                   time.Duration
	PollingInitialBackoff             time.Duration
	PollingMaxBackoff                 time.Duration
	PollingBackoffFactor              float64
	PollingBackoffJitterFactor        float64
	PollingMaxFailureDuration         time.Duration

	ControlThePayloadConfigPath string

	WebhookInvokerTimeout       time.Duration
	GitLabPipelineInvokerTimeout time.Duration
	GitLabURL                   string

	LogLevel        string
	DetailedLogging bool

	AgentEnvironments []string

	MetricsAddress string
}

// Load reads environment variables into Config, applying sensible defaults,
// and validates the values that have no sane default.
func Load() (Config, error) {
	cfg := Config{
		StreamerName: Streamer(strings.ToUpper(resolveStreamerName())),

		PortOrgID:        getEnv("PORT_ORG_ID", ""),
		PortAPIBaseURL:   getEnv("PORT_API_BASE_URL", "https://api.getport.io"),
		PortClientID:     getEnv("PORT_CLIENT_ID", ""),
		PortClientSecret: getEnv("PORT_CLIENT_SECRET", ""),

		UsingLocalPortInstance: getBoolEnv("USING_LOCAL_PORT_INSTANCE", false),

		KafkaBootstrapServers: getEnv("KAFKA_CONSUMER_BOOTSTRAP_SERVERS", "localhost:9092"),
		KafkaGroupID:          getEnv("KAFKA_CONSUMER_GROUP_ID", "port-agent"),
		KafkaSecurityProtocol: getEnv("KAFKA_CONSUMER_SECURITY_PROTOCOL", "SASL_SSL"),
		KafkaSASLMechanism:    getEnv("KAFKA_CONSUMER_SASL_MECHANISM", "SCRAM-SHA-512"),
		KafkaSessionTimeout:   getMillisecondsEnv("KAFKA_CONSUMER_SESSION_TIMEOUT_MS", 45*time.Second),
		KafkaAutoOffsetReset:  getEnv("KAFKA_CONSUMER_AUTO_OFFSET_RESET", "earliest"),

		PollingRunsBatchSize:       getIntEnv("POLLING_RUNS_BATCH_SIZE", 10),
		PollingInterval:            getSecondsEnv("POLLING_INTERVAL_SECONDS", 2*time.Second),
		PollingInitialBackoff:      getSecondsEnv("POLLING_INITIAL_BACKOFF_SECONDS", 1*time.Second),
		PollingMaxBackoff:          getSecondsEnv("POLLING_MAX_BACKOFF_SECONDS", 60*time.Second),
		PollingBackoffFactor:       getFloatEnv("POLLING_BACKOFF_FACTOR", 2.0),
		PollingBackoffJitterFactor: getFloatEnv("POLLING_BACKOFF_JITTER_FACTOR", 0.1),
		PollingMaxFailureDuration:  getSecondsEnv("POLLING_MAX_FAILURE_DURATION_SECONDS", 10*time.Minute),

		ControlThePayloadConfigPath: getEnv("CONTROL_THE_PAYLOAD_CONFIG_PATH", "/app/control_the_payload_config.json"),

		WebhookInvokerTimeout:        getSecondsEnv("WEBHOOK_INVOKER_TIMEOUT", 10*time.Second),
		GitLabPipelineInvokerTimeout: getSecondsEnv("GITLAB_PIPELINE_INVOKER_TIMEOUT", 10*time.Second),
		GitLabURL:                    getEnv("GITLAB_URL", "https://gitlab.com"),

		LogLevel:        getEnv("LOG_LEVEL", "INFO"),
		DetailedLogging: getBoolEnv("DETAILED_LOGGING", false),

		MetricsAddress: getEnv("METRICS_ADDRESS", ":9090"),
	}

	cfg.AgentEnvironments = splitAndTrim(getEnv("AGENT_ENVIRONMENTS", ""))
	cfg.KafkaRunsTopic = getEnv("KAFKA_RUNS_TOPIC", cfg.PortOrgID+".runs")
	cfg.KafkaChangelogTopic = getEnv("KAFKA_CHANGELOG_TOPIC", cfg.PortOrgID+".change.log")

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.PortClientID == "" || c.PortClientSecret == "" {
		return fmt.Errorf("config: PORT_CLIENT_ID and PORT_CLIENT_SECRET are required")
	}
	if c.PortOrgID == "" {
		return fmt.Errorf("config: PORT_ORG_ID is required")
	}
	if c.StreamerName != StreamerKafka && c.StreamerName != StreamerPolling {
		return fmt.Errorf("config: STREAMER_NAME must be KAFKA or POLLING, got %q", c.StreamerName)
	}
	return nil
}

// resolveStreamerName accepts the current STREAMER_NAME variable and, when
// unset, falls back to the legacy PORT_AGENT_TRANSPORT_TYPE variable carried
// over from earlier releases of the agent.
func resolveStreamerName() string {
	if v, ok := os.LookupEnv("STREAMER_NAME"); ok && v != "" {
		return v
	}
	if v, ok := os.LookupEnv("PORT_AGENT_TRANSPORT_TYPE"); ok && v != "" {
		return v
	}
	return "KAFKA"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getIntEnv(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloatEnv(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// getSecondsEnv parses a number of seconds, fractional values allowed (e.g.
// "0.5"), into a time.Duration.
func getSecondsEnv(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return time.Duration(parsed * float64(time.Second))
		}
	}
	return fallback
}

// getMillisecondsEnv parses an integer number of milliseconds into a time.Duration.
func getMillisecondsEnv(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return time.Duration(parsed) * time.Millisecond
		}
	}
	return fallback
}
