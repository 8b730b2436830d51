package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/port-labs/agent/internal/dispatch"
	"github.com/port-labs/agent/internal/dispatch/gitlab"
	"github.com/port-labs/agent/internal/expr"
	"github.com/port-labs/agent/internal/mapping"
	"github.com/port-labs/agent/internal/portclient"
	"github.com/port-labs/agent/internal/transform"
)

type stubPortClient struct {
	logs     []string
	statuses []portclient.StatusPatch
	responses []any
}

func (s *stubPortClient) AppendRunLog(ctx context.Context, runID, message string) {
	s.logs = append(s.logs, message)
}
func (s *stubPortClient) ReportRunResponse(ctx context.Context, runID string, response any) error {
	s.responses = append(s.responses, response)
	return nil
}
func (s *stubPortClient) ReportRunStatus(ctx context.Context, runID string, patch portclient.StatusPatch) error {
	s.statuses = append(s.statuses, patch)
	return nil
}

type stubWebhook struct {
	resp  dispatch.Response
	err   error
	calls []dispatch.RequestPlan
}

func (s *stubWebhook) Dispatch(ctx context.Context, plan dispatch.RequestPlan) (dispatch.Response, error) {
	s.calls = append(s.calls, plan)
	return s.resp, s.err
}

type stubGitLab struct{ calls int }

func (s *stubGitLab) Dispatch(ctx context.Context, desc gitlab.Descriptor, userInputs map[string]any, event map[string]any) (dispatch.Response, error) {
	s.calls++
	return dispatch.Response{OK: true, StatusCode: 200}, nil
}

func newPipeline(t *testing.T, mappings []mapping.Mapping, wh *stubWebhook, pc *stubPortClient) *Pipeline {
	t.Helper()
	store := mapping.NewStore(mappings)
	tr := transform.New(expr.New(nil), nil)
	return New(pc, store, tr, wh, &stubGitLab{}, "secret", "acme.runs", "acme.change.log", nil)
}

func TestProcessEventDispatchesAndReportsSuccess(t *testing.T) {
	wh := &stubWebhook{resp: dispatch.Response{OK: true, StatusCode: 200, Text: "ok"}}
	pc := &stubPortClient{}
	mappings := []mapping.Mapping{{Enabled: litEnabled(true)}}
	p := newPipeline(t, mappings, wh, pc)

	event := map[string]any{
		"context": map[string]any{"runId": "r1"},
		"payload": map[string]any{"action": map[string]any{"invocationMethod": map[string]any{
			"type": "WEBHOOK", "agent": true, "url": "http://target/x", "synchronized": true,
		}}},
	}

	err := p.ProcessEvent(context.Background(), event, "acme.runs")
	require.NoError(t, err)
	require.Len(t, wh.calls, 1)
	require.Equal(t, "http://target/x", wh.calls[0].URL)
	require.Len(t, pc.statuses, 1)
	require.Equal(t, "SUCCESS", *pc.statuses[0].Status)
}

func TestProcessEventSkipsWhenNotForAgent(t *testing.T) {
	wh := &stubWebhook{}
	pc := &stubPortClient{}
	p := newPipeline(t, nil, wh, pc)

	event := map[string]any{
		"context": map[string]any{"runId": "r1"},
		"payload": map[string]any{"action": map[string]any{"invocationMethod": map[string]any{
			"type": "WEBHOOK", "agent": false, "url": "http://target/x",
		}}},
	}

	err := p.ProcessEvent(context.Background(), event, "acme.runs")
	require.NoError(t, err)
	require.Empty(t, wh.calls)
	require.Empty(t, pc.statuses)
}

func TestProcessEventReturnsErrorOnFailureForSourceAdapter(t *testing.T) {
	wh := &stubWebhook{resp: dispatch.Response{OK: false, StatusCode: 500}}
	pc := &stubPortClient{}
	mappings := []mapping.Mapping{{Enabled: litEnabled(true)}}
	p := newPipeline(t, mappings, wh, pc)

	event := map[string]any{
		"context": map[string]any{"runId": "r1"},
		"payload": map[string]any{"action": map[string]any{"invocationMethod": map[string]any{
			"type": "WEBHOOK", "agent": true, "url": "http://target/x",
		}}},
	}

	err := p.ProcessEvent(context.Background(), event, "acme.runs")
	require.Error(t, err)
	require.Len(t, pc.statuses, 1)
	require.Equal(t, "FAILURE", *pc.statuses[0].Status)
}

func TestReportProcessingFailureReportsOnce(t *testing.T) {
	pc := &stubPortClient{}
	p := newPipeline(t, nil, &stubWebhook{}, pc)
	p.ReportProcessingFailure(context.Background(), "r3")
	require.Len(t, pc.statuses, 1)
	require.Equal(t, "FAILURE", *pc.statuses[0].Status)
	require.Equal(t, "Agent failed to process the run", pc.statuses[0].Summary)
}

func litEnabled(v bool) mapping.Enabled {
	return mapping.Enabled{Literal: &v}
}
