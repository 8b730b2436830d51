// Package transform implements the payload transformer (component D):
// field decryption, mapping selection, and RequestPlan/ReportPlan
// construction by recursive expression evaluation.
package transform

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/port-labs/agent/internal/dispatch"
	"github.com/port-labs/agent/internal/expr"
	"github.com/port-labs/agent/internal/mapping"
)

// Descriptor is the invocation descriptor attached to an event.
type Descriptor struct {
	Type             string
	Agent            bool
	URL              string
	Method           string
	Synchronized     bool
	Headers          map[string]string
	GroupName        string
	ProjectName      string
	DefaultRef       string
	OmitPayload      bool
	OmitUserInputs   bool
}

// Transformer evaluates mappings against events.
type Transformer struct {
	engine *expr.Engine
	logger *log.Logger
}

// New builds a Transformer.
func New(engine *expr.Engine, logger *log.Logger) *Transformer {
	if logger == nil {
		logger = log.New(log.Writer(), "[transform] ", log.LstdFlags)
	}
	return &Transformer{engine: engine, logger: logger}
}

// Transform decrypts designated fields on a copy of event, selects the
// first enabled mapping, and builds the RequestPlan. The matched mapping
// is returned so the caller can later build the ReportPlan once the
// dispatch response is known; ok is false if no mapping matched and the
// descriptor carries no default URL.
func (t *Transformer) Transform(event map[string]any, descriptor Descriptor, secret string, mappings []mapping.Mapping) (dispatch.RequestPlan, *mapping.Mapping, bool) {
	working := deepCopyMap(event)

	matched := t.selectMapping(working, mappings, secret)

	plan := dispatch.RequestPlan{
		Method:  descriptor.Method,
		URL:     descriptor.URL,
		Body:    working,
		Headers: map[string]string{},
		Query:   map[string]string{},
	}
	if plan.Method == "" {
		plan.Method = "POST"
	}

	if matched == nil {
		if descriptor.URL == "" {
			return plan, nil, false
		}
		return plan, nil, true
	}

	decryptFieldsInPlace(working, matched.FieldsToDecryptPaths, secret, t.logger)

	if v, ok := t.resolveField(matched.Method, working); ok {
		if s, isString := v.(string); isString {
			plan.Method = s
		}
	}
	if v, ok := t.resolveField(matched.URL, working); ok {
		if s, isString := v.(string); isString {
			plan.URL = s
		}
	}
	if v, ok := t.resolveField(matched.Body, working); ok {
		plan.Body = v
	}
	if v, ok := t.resolveField(matched.Headers, working); ok {
		plan.Headers = toStringMap(v)
	}
	if v, ok := t.resolveField(matched.Query, working); ok {
		plan.Query = toStringMap(v)
	}

	return plan, matched, true
}

// selectMapping returns the first mapping whose Enabled predicate is
// satisfied, or nil if none matches.
func (t *Transformer) selectMapping(event map[string]any, mappings []mapping.Mapping, secret string) *mapping.Mapping {
	for i := range mappings {
		m := &mappings[i]
		switch {
		case m.Enabled.IsLiteralTrue():
			return m
		case m.Enabled.IsLiteralFalse():
			continue
		case m.Enabled.Expression != "":
			if t.engine.EvalBool(m.Enabled.Expression, event) {
				return m
			}
		}
	}
	return nil
}

// resolveField recursively evaluates a mapping template against event:
// maps recurse key-wise, slices recurse element-wise, strings are
// evaluated as jq expressions, other scalars (and nil) pass through
// unresolved (ok=false for nil so callers can tell "absent" from "null").
func (t *Transformer) resolveField(template any, event map[string]any) (any, bool) {
	if template == nil {
		return nil, false
	}
	switch v := template.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			if resolved, ok := t.resolveField(child, event); ok {
				out[k] = resolved
			}
		}
		return out, true
	case []any:
		out := make([]any, 0, len(v))
		for _, child := range v {
			resolved, _ := t.resolveField(child, event)
			out = append(out, resolved)
		}
		return out, true
	case string:
		result, ok := t.engine.Eval(v, event)
		if !ok {
			return nil, false
		}
		return result, true
	default:
		return v, true
	}
}

// BuildReportPlan applies step 4 of §4.4: default status/summary from the
// response, overlaid by the mapping's report template if present.
func (t *Transformer) BuildReportPlan(matched *mapping.Mapping, event map[string]any, plan dispatch.RequestPlan, synchronized bool, resp dispatch.Response) map[string]any {
	report := map[string]any{}

	switch {
	case resp.Skipped:
		// No request was made; nothing to report.
	case resp.OK && synchronized:
		report["status"] = "SUCCESS"
	case !resp.OK:
		report["status"] = "FAILURE"
		report["summary"] = fmt.Sprintf("request failed with status %d", resp.StatusCode)
	}

	if matched == nil || matched.Report == nil {
		return report
	}

	ctx := map[string]any{
		"body":     event,
		"request":  requestPlanDict(plan),
		"response": resp.Dict(),
	}
	overlay := func(key string, template any) {
		if template == nil {
			return
		}
		if v, ok := t.resolveField(template, ctx); ok {
			report[key] = v
		}
	}
	overlay("status", matched.Report.Status)
	overlay("link", matched.Report.Link)
	overlay("summary", matched.Report.Summary)
	overlay("externalRunId", matched.Report.ExternalRunID)

	return report
}

func requestPlanDict(p dispatch.RequestPlan) map[string]any {
	return map[string]any{
		"method":  p.Method,
		"url":     p.URL,
		"body":    p.Body,
		"headers": p.Headers,
		"query":   p.Query,
	}
}

func toStringMap(v any) map[string]string {
	out := map[string]string{}
	m, ok := v.(map[string]any)
	if !ok {
		return out
	}
	for k, val := range m {
		switch x := val.(type) {
		case string:
			out[k] = x
		default:
			b, err := json.Marshal(x)
			if err == nil {
				out[k] = string(b)
			}
		}
	}
	return out
}

func deepCopyMap(m map[string]any) map[string]any {
	b, err := json.Marshal(m)
	if err != nil {
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return map[string]any{}
	}
	return out
}
