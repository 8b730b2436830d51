package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearAgentEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"STREAMER_NAME", "PORT_AGENT_TRANSPORT_TYPE", "PORT_ORG_ID",
		"PORT_CLIENT_ID", "PORT_CLIENT_SECRET", "POLLING_INTERVAL_SECONDS",
	}
	for _, k := range keys {
		old, ok := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if ok {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadRequiresCredentials(t *testing.T) {
	clearAgentEnv(t)
	_, err := Load()
	require.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearAgentEnv(t)
	os.Setenv("PORT_ORG_ID", "acme")
	os.Setenv("PORT_CLIENT_ID", "id")
	os.Setenv("PORT_CLIENT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, StreamerKafka, cfg.StreamerName)
	require.Equal(t, "acme.runs", cfg.KafkaRunsTopic)
	require.Equal(t, "acme.change.log", cfg.KafkaChangelogTopic)
	require.Equal(t, 2*time.Second, cfg.PollingInterval)
}

func TestLoadAcceptsLegacyStreamerName(t *testing.T) {
	clearAgentEnv(t)
	os.Setenv("PORT_ORG_ID", "acme")
	os.Setenv("PORT_CLIENT_ID", "id")
	os.Setenv("PORT_CLIENT_SECRET", "secret")
	os.Setenv("PORT_AGENT_TRANSPORT_TYPE", "polling")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, StreamerPolling, cfg.StreamerName)
}

func TestLoadPollingIntervalAcceptsFractionalSeconds(t *testing.T) {
	clearAgentEnv(t)
	os.Setenv("PORT_ORG_ID", "acme")
	os.Setenv("PORT_CLIENT_ID", "id")
	os.Setenv("PORT_CLIENT_SECRET", "secret")
	os.Setenv("POLLING_INTERVAL_SECONDS", "0.5")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 500*time.Millisecond, cfg.PollingInterval)
}
