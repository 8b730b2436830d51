// Package dispatch defines the types shared by the webhook and GitLab
// dispatchers: the outbound RequestPlan and the captured Response view.
package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
)

// RequestPlan is the transformer's fully-resolved description of an
// outbound request.
type RequestPlan struct {
	Method  string
	URL     string
	Body    any
	Headers map[string]string
	Query   map[string]string
}

// Response is the response view returned by a dispatcher: {ok, statusCode,
// headers, text, json}. JSON is nil if the body did not parse as JSON.
//
// Skipped marks a dispatch that never reached the target (e.g. no GitLab
// trigger token configured for the project) as distinct from both success
// and failure: no request was made, so neither a SUCCESS nor a FAILURE
// status should be reported for it.
type Response struct {
	OK         bool                `json:"ok"`
	Skipped    bool                `json:"-"`
	StatusCode int                 `json:"statusCode"`
	Headers    map[string][]string `json:"headers"`
	Text       string              `json:"text"`
	JSON       any                 `json:"json"`
}

// Dict renders the response the way the report-template context and
// reportRunResponse expect: {statusCode, headers, text, json}.
func (r Response) Dict() map[string]any {
	return map[string]any{
		"statusCode": r.StatusCode,
		"headers":    r.Headers,
		"text":       r.Text,
		"json":       r.JSON,
	}
}

// Dispatcher is the plan-driven dispatch interface the webhook dispatcher
// satisfies. The GitLab dispatcher takes a descriptor, the user inputs and
// the event instead of a RequestPlan, so it does not implement it.
type Dispatcher interface {
	Dispatch(ctx context.Context, plan RequestPlan) (Response, error)
}

// BuildResponse reads an *http.Response into the Response view, attempting
// JSON decode with a raw-text fallback.
func BuildResponse(resp *http.Response) (Response, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, err
	}

	out := Response{
		OK:         resp.StatusCode < 400,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Text:       string(body),
	}
	var parsed any
	if len(body) > 0 && json.Unmarshal(body, &parsed) == nil {
		out.JSON = parsed
	}
	return out, nil
}
