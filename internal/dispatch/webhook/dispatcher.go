// Package webhook implements the signed webhook dispatcher (component E):
// it attaches HMAC signature and timestamp headers, sends the request, and
// captures the response.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/port-labs/agent/internal/dispatch"
	"github.com/port-labs/agent/internal/observability"
	"github.com/port-labs/agent/internal/signing"
)

// Dispatcher sends signed HTTP requests and captures responses, following
// the hand-rolled *http.Client-wrapper style the teacher uses for every
// outbound integration (no REST SDK).
type Dispatcher struct {
	secret     string
	httpClient *http.Client
	logger     *log.Logger
	now        func() time.Time
}

// New builds a Dispatcher. secret signs outgoing requests; internal/pipeline
// verifies incoming signatures with the same value.
func New(secret string, timeout time.Duration, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.New(log.Writer(), "[webhook] ", log.LstdFlags)
	}
	return &Dispatcher{
		secret:     secret,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		now:        time.Now,
	}
}

// Dispatch implements dispatch.Dispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, plan dispatch.RequestPlan) (dispatch.Response, error) {
	timestamp := strconv.FormatInt(d.now().Unix(), 10)
	signature, err := signing.Sign(d.secret, timestamp, plan.Body)
	if err != nil {
		return dispatch.Response{}, fmt.Errorf("webhook: sign body: %w", err)
	}

	payload, err := signing.CompactJSON(plan.Body)
	if err != nil {
		return dispatch.Response{}, fmt.Errorf("webhook: encode body: %w", err)
	}

	reqURL, err := withQuery(plan.URL, plan.Query)
	if err != nil {
		return dispatch.Response{}, fmt.Errorf("webhook: build url: %w", err)
	}

	method := plan.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(payload))
	if err != nil {
		return dispatch.Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range plan.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set(signing.HeaderTimestamp, timestamp)
	req.Header.Set(signing.HeaderSignature, signature)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		observability.RecordDispatch("webhook", "failure")
		d.logger.Printf("dispatch to %s failed: %v", plan.URL, err)
		return dispatch.Response{}, fmt.Errorf("webhook: send request: %w", err)
	}

	out, err := dispatch.BuildResponse(resp)
	if err != nil {
		observability.RecordDispatch("webhook", "failure")
		return dispatch.Response{}, fmt.Errorf("webhook: read response: %w", err)
	}

	if out.OK {
		observability.RecordDispatch("webhook", "success")
	} else {
		observability.RecordDispatch("webhook", "failure")
	}
	d.logger.Printf("dispatched %s %s -> %d", method, plan.URL, out.StatusCode)
	return out, nil
}

func withQuery(rawURL string, query map[string]string) (string, error) {
	if len(query) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
