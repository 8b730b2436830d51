package pipeline

import (
	"github.com/port-labs/agent/internal/dispatch/gitlab"
	"github.com/port-labs/agent/internal/transform"
)

// ResolveDescriptor implements the original implementation's
// get_invocation_method: payload.action.invocationMethod for run events,
// changelogDestination for changelog events, and an empty ("not ours")
// descriptor otherwise.
func ResolveDescriptor(event map[string]any, topic, runsTopic, changelogTopic string) transform.Descriptor {
	var raw map[string]any
	switch topic {
	case runsTopic:
		raw = dig(event, "payload", "action", "invocationMethod")
	case changelogTopic:
		raw = dig(event, "changelogDestination")
	}
	if raw == nil {
		return transform.Descriptor{}
	}
	return descriptorFromMap(raw)
}

func descriptorFromMap(raw map[string]any) transform.Descriptor {
	d := transform.Descriptor{
		Type:           stringField(raw, "type"),
		Agent:          boolField(raw, "agent"),
		URL:            stringField(raw, "url"),
		Method:         stringField(raw, "method"),
		Synchronized:   boolField(raw, "synchronized"),
		GroupName:      stringField(raw, "groupName"),
		ProjectName:    stringField(raw, "projectName"),
		DefaultRef:     stringField(raw, "defaultRef"),
		OmitPayload:    boolField(raw, "omitPayload"),
		OmitUserInputs: boolField(raw, "omitUserInputs"),
	}
	if h, ok := raw["headers"].(map[string]any); ok {
		d.Headers = map[string]string{}
		for k, v := range h {
			if s, isStr := v.(string); isStr {
				d.Headers[k] = s
			}
		}
	}
	return d
}

// gitlabDescriptor projects a transform.Descriptor down to what the GitLab
// dispatcher needs.
func gitlabDescriptor(d transform.Descriptor) gitlab.Descriptor {
	return gitlab.Descriptor{
		GroupName:      d.GroupName,
		ProjectName:    d.ProjectName,
		DefaultRef:     d.DefaultRef,
		OmitPayload:    d.OmitPayload,
		OmitUserInputs: d.OmitUserInputs,
	}
}

func dig(m map[string]any, path ...string) map[string]any {
	cur := m
	for _, p := range path {
		next, ok := cur[p]
		if !ok {
			return nil
		}
		asMap, ok := next.(map[string]any)
		if !ok {
			return nil
		}
		cur = asMap
	}
	return cur
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func boolField(m map[string]any, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}
