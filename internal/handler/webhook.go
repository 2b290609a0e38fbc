package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// GenericWebhookName is the handler-name under which GenericWebhook is
// registered by default (see RegisterDefaults).
const GenericWebhookName = "generic-webhook"

// webhookCallArgs is the shape the Enqueue Service writes for a
// generic-webhook job: args = [source, payload], following
// internal/enqueue.Params{Args: []any{source, payload}}.
type webhookCallArgs struct {
	Args []json.RawMessage `json:"args"`
}

// webhookResult mirrors original_source's process_webhook_event return
// value: {source, event_id, received_at, payload_keys}.
type webhookResult struct {
	Source      string   `json:"source"`
	EventID     string   `json:"event_id"`
	ReceivedAt  string   `json:"received_at"`
	PayloadKeys []string `json:"payload_keys"`
}

// GenericWebhook is the out-of-the-box handler registered so C5/C6 can be
// exercised end to end without a real domain handler. It normalizes an
// arbitrary webhook payload into a small metadata document; it performs no
// domain-specific processing.
var GenericWebhook = HandlerFunc(func(_ context.Context, payload json.RawMessage) (any, error) {
	var call webhookCallArgs
	if err := json.Unmarshal(payload, &call); err != nil {
		return nil, fmt.Errorf("generic-webhook: decode payload: %w", err)
	}

	if len(call.Args) < 2 {
		return nil, fmt.Errorf("generic-webhook: expected args [source, payload], got %d args", len(call.Args))
	}

	var source string
	if err := json.Unmarshal(call.Args[0], &source); err != nil {
		return nil, fmt.Errorf("generic-webhook: decode source: %w", err)
	}

	var body map[string]any
	if err := json.Unmarshal(call.Args[1], &body); err != nil {
		return nil, fmt.Errorf("generic-webhook: decode event body: %w", err)
	}

	eventID := "unknown"
	if raw, ok := body["id"]; ok {
		eventID = fmt.Sprintf("%v", raw)
	}

	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return webhookResult{
		Source:      source,
		EventID:     eventID,
		ReceivedAt:  time.Now().UTC().Format(time.RFC3339),
		PayloadKeys: keys,
	}, nil
})

// RegisterDefaults registers the handlers shipped with this module. Domain
// handler bodies beyond generic-webhook are out of scope (spec.md §1
// Non-goals); callers may Register additional handlers before calling
// r.Freeze().
func RegisterDefaults(r *Registry) error {
	return r.Register(GenericWebhookName, GenericWebhook)
}
