// Package supervisor selects and runs the configured source adapter,
// patching the control plane with which streamer this agent is running
// and shutting it down cleanly on cancellation.
package supervisor

import (
	"context"
	"fmt"
	"log"
)

// Adapter is the common shape of the Kafka and polling source adapters.
type Adapter interface {
	Start(ctx context.Context) error
	Stop()
}

// StreamerSettingReporter records which streamer this agent instance is
// running, best-effort, satisfied by *portclient.Client.
type StreamerSettingReporter interface {
	PatchOrgStreamerSetting(ctx context.Context, name string)
}

// Supervisor owns the lifetime of one source adapter.
type Supervisor struct {
	StreamerName string
	Client       StreamerSettingReporter
	Adapter      Adapter
	Logger       *log.Logger
}

// New builds a Supervisor.
func New(streamerName string, client StreamerSettingReporter, adapter Adapter, logger *log.Logger) *Supervisor {
	if logger == nil {
		logger = log.New(log.Writer(), "[supervisor] ", log.LstdFlags)
	}
	return &Supervisor{StreamerName: streamerName, Client: client, Adapter: adapter, Logger: logger}
}

// Run patches the org streamer setting, starts the adapter, and blocks
// until ctx is cancelled or the adapter exits on its own (e.g. the polling
// adapter's failure-duration ceiling, or the Kafka adapter's orphaned
// partition-assignment detection).
func (s *Supervisor) Run(ctx context.Context) error {
	s.Client.PatchOrgStreamerSetting(ctx, s.StreamerName)
	s.Logger.Printf("starting %s streamer", s.StreamerName)

	done := make(chan error, 1)
	go func() {
		done <- s.Adapter.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		s.Logger.Printf("shutdown requested, stopping %s streamer", s.StreamerName)
		s.Adapter.Stop()
		<-done
		return nil
	case err := <-done:
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("supervisor: %s streamer exited: %w", s.StreamerName, err)
		}
		return nil
	}
}
