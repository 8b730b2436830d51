// Package kafka implements the Kafka source adapter (component G.1): it
// subscribes to the runs and changelog topics and hands each message to
// the run pipeline, committing offsets synchronously and unconditionally
// after every message — matching the original implementation's
// "commit in the finally block regardless of outcome" discipline.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	segmentio "github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/scram"

	"github.com/port-labs/agent/internal/observability"
)

// Handler processes one decoded event arriving on topic.
type Handler interface {
	ProcessEvent(ctx context.Context, event map[string]any, topic string) error
}

// reader is the minimal kafka.Reader surface the adapter needs, narrowed
// for testability the way the teacher's consumer.Reader interface is.
type reader interface {
	FetchMessage(context.Context) (segmentio.Message, error)
	CommitMessages(context.Context, ...segmentio.Message) error
	Stats() segmentio.ReaderStats
	Close() error
}

// Config configures the Kafka adapter.
type Config struct {
	BootstrapServers string
	GroupID          string
	SASLMechanism    string
	Username         string
	Password         string
	SessionTimeout   time.Duration
	StartOffset      int64 // segmentio/kafka-go's kafka.FirstOffset or kafka.LastOffset
	UseSASL          bool
	DetailedLogging  bool

	RunsTopic      string
	ChangelogTopic string
}

// Adapter is the Kafka source adapter.
type Adapter struct {
	cfg     Config
	handler Handler
	logger  *log.Logger

	mu      sync.Mutex
	readers []reader
	cancel  context.CancelFunc
}

// New builds an Adapter.
func New(cfg Config, handler Handler, logger *log.Logger) *Adapter {
	if logger == nil {
		logger = log.New(log.Writer(), "[kafka] ", log.LstdFlags)
	}
	return &Adapter{cfg: cfg, handler: handler, logger: logger}
}

// Start subscribes to both topics and blocks until ctx is cancelled or a
// reader detects it has been orphaned (see watchAssignment).
func (a *Adapter) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	defer cancel()

	var wg sync.WaitGroup
	for _, topic := range []string{a.cfg.RunsTopic, a.cfg.ChangelogTopic} {
		r := a.newReader(topic)
		a.mu.Lock()
		a.readers = append(a.readers, r)
		a.mu.Unlock()

		wg.Add(1)
		go func(topic string, r reader) {
			defer wg.Done()
			a.watchAssignment(ctx, topic, r)
			a.consume(ctx, topic, r)
		}(topic, r)
	}
	wg.Wait()
	return ctx.Err()
}

// Stop closes all readers, releasing the Kafka consumer the way the
// teacher's guaranteed-release-on-exit block does for its Readers.
func (a *Adapter) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.readers {
		_ = r.Close()
	}
}

func (a *Adapter) newReader(topic string) reader {
	readerCfg := segmentio.ReaderConfig{
		Brokers:        []string{a.cfg.BootstrapServers},
		GroupID:        a.cfg.GroupID,
		Topic:          topic,
		StartOffset:    a.cfg.StartOffset,
		SessionTimeout: a.cfg.SessionTimeout,
		CommitInterval: 0, // synchronous manual commit, per §4.7.1
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
	}
	if a.cfg.UseSASL {
		readerCfg.Dialer = &segmentio.Dialer{
			Timeout:       10 * time.Second,
			DualStack:     true,
			SASLMechanism: scramMechanism(a.cfg.SASLMechanism, a.cfg.Username, a.cfg.Password),
		}
	}
	return segmentio.NewReader(readerCfg)
}

func scramMechanism(mechanism, username, password string) segmentio.SASLMechanism {
	algo := scram.SHA512
	if mechanism == "SCRAM-SHA-256" {
		algo = scram.SHA256
	}
	m, err := scram.Mechanism(algo, username, password)
	if err != nil {
		return nil
	}
	return m
}

// watchAssignment approximates the original on_assign callback: segmentio's
// high-level Reader does not expose a partition-assignment callback, so a
// grace period after subscribing checks whether any fetch has happened yet;
// if not, another consumer with the same group id likely holds every
// partition, and this instance shuts down rather than spin forever.
func (a *Adapter) watchAssignment(ctx context.Context, topic string, r reader) {
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(30 * time.Second):
		}
		stats := r.Stats()
		if stats.Fetches == 0 && stats.Messages == 0 {
			a.logger.Printf("no partitions assigned for topic %s after grace period, shutting down", topic)
			a.Stop()
		}
	}()
}

func (a *Adapter) consume(ctx context.Context, topic string, r reader) {
	for {
		if err := ctx.Err(); err != nil {
			return
		}

		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			a.logger.Printf("fetch error on %s: %v", topic, err)
			continue
		}

		a.processAndCommit(ctx, topic, r, msg)
	}
}

// processAndCommit mirrors the Python consumer's try/except/finally: the
// commit always happens, regardless of decode or handler outcome.
func (a *Adapter) processAndCommit(ctx context.Context, topic string, r reader, msg segmentio.Message) {
	defer func() {
		if commitErr := r.CommitMessages(ctx, msg); commitErr != nil {
			a.logger.Printf("commit error on %s (offset=%d): %v", topic, msg.Offset, commitErr)
		}
	}()

	if a.cfg.DetailedLogging {
		a.logger.Printf("raw message value on %s: %s", topic, string(msg.Value))
	}

	observability.RecordEventReceived("kafka", topic)

	var event map[string]any
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		a.logger.Printf("decode error on %s (offset=%d): %v", topic, msg.Offset, err)
		observability.RecordDecodeError("kafka")
		return
	}

	if err := a.handler.ProcessEvent(ctx, event, topic); err != nil {
		a.logger.Printf("handler error on %s (offset=%d): %v", topic, msg.Offset, err)
	}
}
