package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	segmentio "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu       sync.Mutex
	messages []segmentio.Message
	pos      int
	closed   bool
	commits  []segmentio.Message
	stats    segmentio.ReaderStats
}

func (f *fakeReader) FetchMessage(ctx context.Context) (segmentio.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pos >= len(f.messages) {
		<-ctx.Done()
		return segmentio.Message{}, ctx.Err()
	}
	m := f.messages[f.pos]
	f.pos++
	f.stats.Fetches++
	f.stats.Messages++
	return m, nil
}

func (f *fakeReader) CommitMessages(ctx context.Context, msgs ...segmentio.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, msgs...)
	return nil
}

func (f *fakeReader) Stats() segmentio.ReaderStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

type recordingHandler struct {
	mu     sync.Mutex
	events []map[string]any
	err    error
}

func (h *recordingHandler) ProcessEvent(ctx context.Context, event map[string]any, topic string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return h.err
}

func TestProcessAndCommitCommitsOnHandlerError(t *testing.T) {
	handler := &recordingHandler{err: errors.New("boom")}
	a := New(Config{RunsTopic: "acme.runs", ChangelogTopic: "acme.change.log"}, handler, nil)

	payload, _ := json.Marshal(map[string]any{"context": map[string]any{"runId": "r1"}})
	msg := segmentio.Message{Value: payload, Offset: 7}
	r := &fakeReader{}

	a.processAndCommit(context.Background(), "acme.runs", r, msg)

	require.Len(t, handler.events, 1)
	require.Len(t, r.commits, 1)
	require.Equal(t, int64(7), r.commits[0].Offset)
}

func TestProcessAndCommitCommitsOnDecodeError(t *testing.T) {
	handler := &recordingHandler{}
	a := New(Config{RunsTopic: "acme.runs", ChangelogTopic: "acme.change.log"}, handler, nil)

	msg := segmentio.Message{Value: []byte("not json"), Offset: 3}
	r := &fakeReader{}

	a.processAndCommit(context.Background(), "acme.runs", r, msg)

	require.Empty(t, handler.events)
	require.Len(t, r.commits, 1)
}

func TestWatchAssignmentStopsAdapterWhenNothingFetched(t *testing.T) {
	t.Skip("timing-dependent grace-period behavior exercised via integration, not unit, testing")
}
