// Package pipeline implements the run pipeline orchestrator (component H):
// the per-event validate → transform → dispatch → report sequence.
package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/port-labs/agent/internal/dispatch"
	"github.com/port-labs/agent/internal/dispatch/gitlab"
	"github.com/port-labs/agent/internal/dispatch/webhook"
	"github.com/port-labs/agent/internal/mapping"
	"github.com/port-labs/agent/internal/observability"
	"github.com/port-labs/agent/internal/portclient"
	"github.com/port-labs/agent/internal/runlog"
	"github.com/port-labs/agent/internal/signing"
	"github.com/port-labs/agent/internal/transform"
)

// PortClient abstracts the control-plane calls the pipeline issues after
// dispatch, satisfied by *portclient.Client and test stubs.
type PortClient interface {
	AppendRunLog(ctx context.Context, runID, message string)
	ReportRunResponse(ctx context.Context, runID string, response any) error
	ReportRunStatus(ctx context.Context, runID string, patch portclient.StatusPatch) error
}

// WebhookDispatcher abstracts the signed webhook dispatcher.
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, plan dispatch.RequestPlan) (dispatch.Response, error)
}

// GitLabDispatcher abstracts the GitLab pipeline-trigger dispatcher.
type GitLabDispatcher interface {
	Dispatch(ctx context.Context, desc gitlab.Descriptor, userInputs map[string]any, event map[string]any) (dispatch.Response, error)
}

// Pipeline wires the mapping store, transformer, and dispatchers into the
// per-event orchestration described in §4.8.
type Pipeline struct {
	Client         PortClient
	Store          *mapping.Store
	Transformer    *transform.Transformer
	Webhook        WebhookDispatcher
	GitLab         GitLabDispatcher
	Secret         string
	RunsTopic      string
	ChangelogTopic string
	Logger         *log.Logger
}

// New builds a Pipeline.
func New(client PortClient, store *mapping.Store, transformer *transform.Transformer, wh WebhookDispatcher, gl GitLabDispatcher, secret, runsTopic, changelogTopic string, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.New(log.Writer(), "[pipeline] ", log.LstdFlags)
	}
	return &Pipeline{
		Client: client, Store: store, Transformer: transformer,
		Webhook: wh, GitLab: gl, Secret: secret,
		RunsTopic: runsTopic, ChangelogTopic: changelogTopic, Logger: logger,
	}
}

// ProcessEvent runs the full pipeline for one event arriving on topic.
// It returns an error for a non-2xx dispatch outcome so the source adapter
// can record the failure, per step 7 of §4.8.
func (p *Pipeline) ProcessEvent(ctx context.Context, event map[string]any, topic string) error {
	correlationID := uuid.NewString()
	runID := runIDOf(event)

	descriptor := ResolveDescriptor(event, topic, p.RunsTopic, p.ChangelogTopic)
	if !descriptor.Agent && descriptor.Type == "" {
		return nil
	}
	if !descriptor.Agent {
		p.Logger.Printf("[%s] not for agent, skipping", correlationID)
		return nil
	}

	p.logRun(ctx, runID, runlog.Line(runlog.StageReceived, correlationID))

	working := event
	if descriptor.Type == "WEBHOOK" && topic == p.RunsTopic {
		verified, stripped := p.verifyIncomingSignature(event)
		if !verified {
			p.Logger.Printf("[%s] signature mismatch, dropping event", correlationID)
			return nil
		}
		working = stripped
	}

	mappings := p.Store.Mappings()
	plan, matched, ok := p.Transformer.Transform(working, descriptor, p.Secret, mappings)
	if !ok {
		p.Logger.Printf("[%s] no mapping matched and no default destination, skipping", correlationID)
		return nil
	}

	p.logRun(ctx, runID, runlog.Line(runlog.StagePreparing, ""))
	p.logRun(ctx, runID, runlog.Line(runlog.StageSending, plan.URL))

	resp, err := p.dispatch(ctx, descriptor, plan, working)
	if err != nil {
		return fmt.Errorf("pipeline: dispatch: %w", err)
	}
	p.logRun(ctx, runID, runlog.Line(runlog.StageOutcome, fmt.Sprintf("status=%d", resp.StatusCode)))

	if runID == "" {
		return statusErr(resp)
	}

	if descriptor.Synchronized && resp.Text != "" {
		p.logRun(ctx, runID, runlog.Line(runlog.StageReportingResponse, ""))
		if err := p.Client.ReportRunResponse(ctx, runID, resp.Dict()); err != nil {
			p.Logger.Printf("[%s] report response failed: %v", correlationID, err)
		}
	}

	report := p.Transformer.BuildReportPlan(matched, working, plan, descriptor.Synchronized, resp)
	if len(report) > 0 {
		p.logRun(ctx, runID, runlog.Line(runlog.StageReportingStatus, ""))
		patch := statusPatchFromReport(report)
		if err := p.Client.ReportRunStatus(ctx, runID, patch); err != nil {
			p.Logger.Printf("[%s] report status failed: %v", correlationID, err)
		}
		if s, ok := report["status"].(string); ok {
			observability.RecordReport(s)
		}
	}

	p.logRun(ctx, runID, runlog.Line(runlog.StageFinished, ""))
	return statusErr(resp)
}

// ReportProcessingFailure is invoked by the polling adapter when processing
// an acked run raises, per §4.7.2 step 3 / §4.8's at-least-once invariant:
// exactly one best-effort FAILURE status report per acked run.
func (p *Pipeline) ReportProcessingFailure(ctx context.Context, runID string) {
	status := "FAILURE"
	patch := portclient.StatusPatch{Status: &status, Summary: "Agent failed to process the run"}
	if err := p.Client.ReportRunStatus(ctx, runID, patch); err != nil {
		p.Logger.Printf("report processing failure for %s failed: %v", runID, err)
	}
	observability.RecordFailedRun()
	observability.RecordReport(status)
}

func (p *Pipeline) dispatch(ctx context.Context, descriptor transform.Descriptor, plan dispatch.RequestPlan, event map[string]any) (dispatch.Response, error) {
	if descriptor.Type == "GITLAB" {
		userInputs, _ := event["payload"].(map[string]any)
		var props map[string]any
		if userInputs != nil {
			props, _ = userInputs["properties"].(map[string]any)
		}
		return p.GitLab.Dispatch(ctx, gitlabDescriptor(descriptor), props, event)
	}
	return p.Webhook.Dispatch(ctx, plan)
}

func (p *Pipeline) logRun(ctx context.Context, runID, line string) {
	if runID == "" {
		return
	}
	p.Client.AppendRunLog(ctx, runID, line)
}

// verifyIncomingSignature checks headers.X-Port-Signature/X-Port-Timestamp
// against a recomputed signature of the event with those two header
// entries stripped, per §4.5.
func (p *Pipeline) verifyIncomingSignature(event map[string]any) (bool, map[string]any) {
	headers, _ := event["headers"].(map[string]any)
	if headers == nil {
		return true, event
	}
	sig, hasSig := headers[signing.HeaderSignature].(string)
	ts, hasTs := headers[signing.HeaderTimestamp].(string)
	if !hasSig || !hasTs {
		return true, event
	}

	stripped := shallowCopy(event)
	strippedHeaders := shallowCopy(headers)
	delete(strippedHeaders, signing.HeaderSignature)
	delete(strippedHeaders, signing.HeaderTimestamp)
	stripped["headers"] = strippedHeaders

	ok, err := signing.Verify(p.Secret, ts, stripped, sig)
	if err != nil {
		p.Logger.Printf("signature verification error: %v", err)
		return false, nil
	}
	return ok, stripped
}

func runIDOf(event map[string]any) string {
	ctxVal, ok := event["context"].(map[string]any)
	if !ok {
		return ""
	}
	id, _ := ctxVal["runId"].(string)
	return id
}

func statusErr(resp dispatch.Response) error {
	if resp.OK || resp.Skipped {
		return nil
	}
	return fmt.Errorf("dispatch returned non-2xx status %d", resp.StatusCode)
}

func statusPatchFromReport(report map[string]any) portclient.StatusPatch {
	patch := portclient.StatusPatch{}
	if s, ok := report["status"].(string); ok {
		patch.Status = &s
	}
	patch.Link = report["link"]
	patch.Summary = report["summary"]
	patch.ExternalRunID = report["externalRunId"]
	return patch
}

func shallowCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
