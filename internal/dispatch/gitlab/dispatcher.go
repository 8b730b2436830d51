// Package gitlab implements the GitLab dispatcher (component F): it
// resolves the project trigger token from the environment and posts a
// pipeline-trigger request.
package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/port-labs/agent/internal/dispatch"
	"github.com/port-labs/agent/internal/observability"
)

// Descriptor carries the fields of the invocation descriptor the GitLab
// dispatcher needs.
type Descriptor struct {
	GroupName      string
	ProjectName    string
	DefaultRef     string
	OmitPayload    bool
	OmitUserInputs bool
}

// Dispatcher posts pipeline-trigger requests to GitLab.
type Dispatcher struct {
	baseURL    string
	httpClient *http.Client
	logger     *log.Logger
	lookupEnv  func(string) (string, bool)
}

// New builds a Dispatcher targeting baseURL (e.g. https://gitlab.com).
func New(baseURL string, timeout time.Duration, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.New(log.Writer(), "[gitlab] ", log.LstdFlags)
	}
	return &Dispatcher{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		lookupEnv:  os.LookupEnv,
	}
}

// Dispatch resolves the trigger token, builds the request body, and posts
// the pipeline trigger. event is the full original event (for port_payload)
// and userInputs is payload.properties (for the variables map and ref
// override). Returns dispatch.Response{Skipped:true} with no error when the
// token is missing, matching the original's "skip silently, report nothing"
// contract rather than falsely reporting success.
func (d *Dispatcher) Dispatch(ctx context.Context, desc Descriptor, userInputs map[string]any, event map[string]any) (dispatch.Response, error) {
	token, ok := d.lookupToken(desc.GroupName, desc.ProjectName)
	if !ok {
		d.logger.Printf("no trigger token for %s/%s, skipping", desc.GroupName, desc.ProjectName)
		return dispatch.Response{Skipped: true}, nil
	}

	ref := desc.DefaultRef
	if ref == "" {
		ref = "main"
	}
	if v, ok := userInputs["ref"]; ok {
		if s, isString := v.(string); isString && s != "" {
			ref = s
		}
	}

	body := map[string]any{"token": token, "ref": ref}
	if !desc.OmitUserInputs {
		vars := make(map[string]string, len(userInputs))
		for k, v := range userInputs {
			vars[k] = stringifyValue(v)
		}
		body["variables"] = vars
	}
	if !desc.OmitPayload {
		body["port_payload"] = event
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return dispatch.Response{}, fmt.Errorf("gitlab: encode body: %w", err)
	}

	projectPath := desc.GroupName + "/" + desc.ProjectName
	reqURL := fmt.Sprintf("%s/api/v4/projects/%s/trigger/pipeline", d.baseURL, url.QueryEscape(projectPath))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return dispatch.Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		observability.RecordDispatch("gitlab", "failure")
		return dispatch.Response{}, fmt.Errorf("gitlab: send request: %w", err)
	}

	out, err := dispatch.BuildResponse(resp)
	if err != nil {
		observability.RecordDispatch("gitlab", "failure")
		return dispatch.Response{}, fmt.Errorf("gitlab: read response: %w", err)
	}
	if out.OK {
		observability.RecordDispatch("gitlab", "success")
	} else {
		observability.RecordDispatch("gitlab", "failure")
	}
	d.logger.Printf("triggered pipeline for %s -> %d", projectPath, out.StatusCode)
	return out, nil
}

// lookupToken derives the env var name by replacing slashes in the project
// name with underscores (so nested/subgroup projects resolve correctly),
// per original_source's kafka_to_gitlab_processor.py.
func (d *Dispatcher) lookupToken(group, project string) (string, bool) {
	envName := group + "_" + strings.ReplaceAll(project, "/", "_")
	return d.lookupEnv(envName)
}

func stringifyValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
