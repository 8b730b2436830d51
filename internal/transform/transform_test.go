package transform

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/port-labs/agent/internal/dispatch"
	"github.com/port-labs/agent/internal/expr"
	"github.com/port-labs/agent/internal/mapping"
)

func TestTransformSelectsFirstEnabledMapping(t *testing.T) {
	tr := New(expr.New(nil), nil)
	event := map[string]any{"context": map[string]any{"runId": "r1"}}
	mappings := []mapping.Mapping{
		{Enabled: litEnabled(true), URL: "http://a"},
		{Enabled: litEnabled(true), URL: "http://b"},
	}

	plan, matched, ok := tr.Transform(event, Descriptor{URL: "http://default"}, "secret", mappings)
	require.True(t, ok)
	require.NotNil(t, matched)
	require.Equal(t, "http://a", plan.URL)
}

func TestTransformFallsBackToDefaultsWhenNoneMatch(t *testing.T) {
	tr := New(expr.New(nil), nil)
	event := map[string]any{}
	mappings := []mapping.Mapping{{Enabled: litEnabled(false), URL: "http://a"}}

	plan, matched, ok := tr.Transform(event, Descriptor{URL: "http://default", Method: "PUT"}, "secret", mappings)
	require.True(t, ok)
	require.Nil(t, matched)
	require.Equal(t, "http://default", plan.URL)
	require.Equal(t, "PUT", plan.Method)
}

func TestTransformNoMatchNoDefaultURLFails(t *testing.T) {
	tr := New(expr.New(nil), nil)
	mappings := []mapping.Mapping{{Enabled: litEnabled(false)}}
	_, matched, ok := tr.Transform(map[string]any{}, Descriptor{}, "secret", mappings)
	require.False(t, ok)
	require.Nil(t, matched)
}

func TestBuildReportPlanDefaultsAndOverlay(t *testing.T) {
	tr := New(expr.New(nil), nil)
	m := mapping.Mapping{Report: &mapping.ReportTemplate{Link: `"http://test.com"`}}
	resp := dispatch.Response{OK: true, StatusCode: 200}

	report := tr.BuildReportPlan(&m, map[string]any{}, dispatch.RequestPlan{}, true, resp)
	require.Equal(t, "SUCCESS", report["status"])
	require.Equal(t, "http://test.com", report["link"])
}

func TestBuildReportPlanFailureSummary(t *testing.T) {
	tr := New(expr.New(nil), nil)
	resp := dispatch.Response{OK: false, StatusCode: 500}
	report := tr.BuildReportPlan(nil, map[string]any{}, dispatch.RequestPlan{}, false, resp)
	require.Equal(t, "FAILURE", report["status"])
	require.Contains(t, report["summary"], "500")
}

func TestBuildReportPlanSkippedReportsNoStatus(t *testing.T) {
	tr := New(expr.New(nil), nil)
	resp := dispatch.Response{Skipped: true}
	report := tr.BuildReportPlan(nil, map[string]any{}, dispatch.RequestPlan{}, true, resp)
	require.NotContains(t, report, "status")
	require.NotContains(t, report, "summary")
}

func litEnabled(v bool) mapping.Enabled {
	return mapping.Enabled{Literal: &v}
}
