// Package polling implements the HTTP long-polling source adapter
// (component G.2): claim -> ack -> process, with exponential backoff on
// repeated failure and a hard shutdown once failures persist past a
// configured ceiling.
package polling

import (
	"context"
	"log"
	"time"

	"github.com/port-labs/agent/internal/backoff"
	"github.com/port-labs/agent/internal/observability"
	"github.com/port-labs/agent/internal/portclient"
)

// PortClient is the subset of portclient.Client the polling adapter needs.
type PortClient interface {
	ClaimPendingRuns(ctx context.Context, installationID string, limit int) ([]portclient.Run, error)
	AckRuns(ctx context.Context, runIDs []string) (int, error)
}

// Handler processes one reconstructed event for a claimed+acked run.
type Handler interface {
	ProcessEvent(ctx context.Context, event map[string]any, topic string) error
	ReportProcessingFailure(ctx context.Context, runID string)
}

// Config configures the polling adapter.
type Config struct {
	InstallationID     string
	BatchSize          int
	Interval           time.Duration
	MaxFailureDuration time.Duration
	DetailedLogging    bool

	// RunsTopic is the topic name the pipeline resolves invocation
	// descriptors for (config.KafkaRunsTopic). Reconstructed polling
	// events are runs-topic-shaped, so they must be handed to
	// ProcessEvent under this same topic name or descriptor resolution
	// silently drops them.
	RunsTopic string

	BackoffInitial      time.Duration
	BackoffMax          time.Duration
	BackoffFactor       float64
	BackoffJitterFactor float64
}

// syntheticTopic labels the metrics recorded for polling-sourced events;
// it is never passed to the handler, since the handler routes events by
// Config.RunsTopic instead.
const syntheticTopic = "polling"

// Adapter is the HTTP long-polling source adapter.
type Adapter struct {
	cfg     Config
	client  PortClient
	handler Handler
	logger  *log.Logger
	backoff *backoff.Backoff

	firstFailure time.Time
	running      bool
}

// New builds an Adapter.
func New(cfg Config, client PortClient, handler Handler, logger *log.Logger) *Adapter {
	if logger == nil {
		logger = log.New(log.Writer(), "[polling] ", log.LstdFlags)
	}
	return &Adapter{
		cfg:     cfg,
		client:  client,
		handler: handler,
		logger:  logger,
		backoff: backoff.New(cfg.BackoffInitial, cfg.BackoffMax, cfg.BackoffFactor, cfg.BackoffJitterFactor),
	}
}

// Start runs the claim/ack/process loop until ctx is cancelled or the
// failure ceiling is exceeded.
func (a *Adapter) Start(ctx context.Context) error {
	a.running = true
	for a.running {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := a.tick(ctx); err != nil {
			if !a.running || ctx.Err() != nil {
				break
			}
			if a.handleError(ctx, err) {
				return err
			}
		}
	}
	return nil
}

// Stop requests the loop to exit after the current tick.
func (a *Adapter) Stop() {
	a.running = false
}

func (a *Adapter) tick(ctx context.Context) error {
	if a.cfg.DetailedLogging {
		a.logger.Printf("polling for pending runs...")
	}

	runs, err := a.client.ClaimPendingRuns(ctx, a.cfg.InstallationID, a.cfg.BatchSize)
	if err != nil {
		return err
	}
	a.resetBackoff()

	if len(runs) > 0 {
		a.logger.Printf("claimed %d pending runs", len(runs))
		acked := a.ackAll(ctx, runs)
		a.processAll(ctx, acked)
	}

	if len(runs) < a.cfg.BatchSize && a.running {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.cfg.Interval):
		}
	}
	return nil
}

func (a *Adapter) ackAll(ctx context.Context, runs []portclient.Run) []portclient.Run {
	acked := make([]portclient.Run, 0, len(runs))
	for _, run := range runs {
		if run.ID == "" {
			a.logger.Printf("run missing id field: %+v", run)
			continue
		}
		count, err := a.client.AckRuns(ctx, []string{run.ID})
		if err != nil {
			a.logger.Printf("failed to ack run %s: %v", run.ID, err)
			continue
		}
		if count == 0 {
			a.logger.Printf("failed to ack run %s", run.ID)
			continue
		}
		a.logger.Printf("acked run %s", run.ID)
		acked = append(acked, run)
	}
	return acked
}

func (a *Adapter) processAll(ctx context.Context, runs []portclient.Run) {
	for _, run := range runs {
		a.logger.Printf("processing run %s", run.ID)
		event, ok := reconstructEvent(run)
		if !ok {
			a.logger.Printf("run %s missing agent-destined payload, skipping", run.ID)
			continue
		}

		observability.RecordEventReceived("polling", syntheticTopic)
		if err := a.handler.ProcessEvent(ctx, event, a.cfg.RunsTopic); err != nil {
			a.logger.Printf("failed to process run %s: %v", run.ID, err)
			a.handler.ReportProcessingFailure(ctx, run.ID)
		}
	}
}

// reconstructEvent rebuilds a runs-topic-shaped event from a claimed run's
// payload, mirroring PollingToWebhookProcessor.process_run: the invocation
// method is projected from payload.{type,url,agent,synchronized,method,
// headers}, grafted onto payload.body (or an empty object), and the run id
// is stamped onto context.runId. ok is false when the run is not agent
// destined or carries no usable payload.
func reconstructEvent(run portclient.Run) (map[string]any, bool) {
	payload, _ := run.Payload["payload"].(map[string]any)
	if payload == nil {
		return nil, false
	}
	agent, _ := payload["agent"].(bool)
	if !agent {
		return nil, false
	}

	invocationMethod := map[string]any{
		"type":         payload["type"],
		"url":          payload["url"],
		"agent":        true,
		"synchronized": boolOr(payload["synchronized"], false),
		"method":       stringOr(payload["method"], "POST"),
		"headers":      mapOr(payload["headers"]),
	}

	body, _ := payload["body"].(map[string]any)
	event := deepCopy(body)
	event["headers"] = invocationMethod["headers"]

	action, _ := event["payload"].(map[string]any)
	if action == nil {
		action = map[string]any{}
	}
	actionInner, _ := action["action"].(map[string]any)
	if actionInner == nil {
		actionInner = map[string]any{}
	}
	actionInner["invocationMethod"] = invocationMethod
	action["action"] = actionInner
	event["payload"] = action

	runCtx, _ := event["context"].(map[string]any)
	if runCtx == nil {
		runCtx = map[string]any{}
	}
	runCtx["runId"] = run.ID
	event["context"] = runCtx

	return event, true
}

func (a *Adapter) handleError(ctx context.Context, err error) bool {
	a.logger.Printf("error during HTTP polling: %v", err)
	now := time.Now()
	if a.firstFailure.IsZero() {
		a.firstFailure = now
	} else if now.Sub(a.firstFailure) > a.cfg.MaxFailureDuration {
		a.logger.Printf("polling has been failing for %s, exiting", a.cfg.MaxFailureDuration)
		a.Stop()
		return true
	}
	a.sleepBackoff(ctx)
	return false
}

func (a *Adapter) resetBackoff() {
	a.backoff.Reset()
	a.firstFailure = time.Time{}
}

func (a *Adapter) sleepBackoff(ctx context.Context) {
	d := a.backoff.Next()
	observability.RecordBackoff(d)
	a.logger.Printf("backing off for %s", d)
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func boolOr(v any, def bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

func stringOr(v any, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}

func mapOr(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func deepCopy(m map[string]any) map[string]any {
	var copyValue func(v any) any
	copyValue = func(v any) any {
		switch x := v.(type) {
		case map[string]any:
			return deepCopy(x)
		case []any:
			out := make([]any, len(x))
			for i, e := range x {
				out[i] = copyValue(e)
			}
			return out
		}
		return v
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}
