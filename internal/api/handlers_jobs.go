package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/opsplatform/jobcore/internal/enqueue"
	"github.com/opsplatform/jobcore/internal/handler"
	"github.com/opsplatform/jobcore/internal/jobstore"
	"github.com/opsplatform/jobcore/internal/oidc"
)

// handleHealth reports liveness of the store and broker (spec.md §4.7): 200
// if both are healthy, 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	storeOK, brokerOK := s.checkHealth(r.Context())

	resp := HealthResponse{Status: "ok", Store: "ok", Broker: "ok"}

	if !storeOK {
		resp.Store = "unavailable"
	}

	if !brokerOK {
		resp.Broker = "unavailable"
	}

	status := http.StatusOK
	if !storeOK || !brokerOK {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}

// decodeJSONObject parses r's body as a single JSON object, rejecting
// arrays and other non-object shapes per spec.md §4.7's payload schema rules.
func decodeJSONObject(r *http.Request, maxBytes int64) (map[string]any, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("invalid_json: %w", err)
	}

	if int64(len(body)) > maxBytes {
		return nil, errPayloadTooLarge
	}

	var raw json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("invalid_json: %w", err)
	}

	trimmed := firstNonSpace(raw)
	if trimmed != '{' {
		return nil, errPayloadMustBeObject
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("invalid_json: %w", err)
	}

	return obj, nil
}

func firstNonSpace(raw json.RawMessage) byte {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return b
		}
	}

	return 0
}

// handleGenericWebhook implements POST /webhooks/{source}: enqueues
// handler.GenericWebhookName with args [source, payload], keyed by
// "<source>:<event-id>" (spec.md §4.2, §4.7).
func (s *Server) handleGenericWebhook(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")

	body, err := decodeJSONObject(r, s.config.MaxRequestSize)
	if err != nil {
		writePayloadError(w, r, s.logger, err)

		return
	}

	eventID := "unknown"
	if raw, ok := body["id"]; ok {
		eventID = fmt.Sprintf("%v", raw)
	}

	key := fmt.Sprintf("%s:%s", source, eventID)

	id, created, err := s.deps.Enqueuer.Enqueue(r.Context(), enqueue.Params{
		HandlerName:    handler.GenericWebhookName,
		Args:           []any{source, body},
		IdempotencyKey: &key,
	})
	if err != nil {
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable(err.Error()))

		return
	}

	writeJSON(w, http.StatusAccepted, EnqueueResponse{JobID: id, Created: created})
}

// domainWebhookEvent is one event in a batch POST /webhooks/{source}/batch
// request body.
type domainWebhookEvent struct {
	EventID string         `json:"event_id"`
	Payload map[string]any `json:"payload"`
}

// handleDomainWebhook implements POST /webhooks/{source}/batch: validates
// an array of events and enqueues one job per event, keyed by
// "<domain>:<event-id>" so duplicate deliveries collapse (spec.md §4.7).
func (s *Server) handleDomainWebhook(w http.ResponseWriter, r *http.Request) {
	domain := r.PathValue("source")

	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxRequestSize+1))
	if err != nil {
		writePayloadError(w, r, s.logger, errInvalidJSON)

		return
	}

	if int64(len(body)) > s.config.MaxRequestSize {
		writePayloadError(w, r, s.logger, errPayloadTooLarge)

		return
	}

	if !json.Valid(body) {
		writePayloadError(w, r, s.logger, errInvalidJSON)

		return
	}

	var events []domainWebhookEvent
	if err := json.Unmarshal(body, &events); err != nil {
		writePayloadError(w, r, s.logger, errPayloadMustBeArray)

		return
	}

	resp := WebhookBatchResponse{Received: len(events), Jobs: make([]EnqueueResponse, 0, len(events))}

	for _, ev := range events {
		if ev.EventID == "" {
			continue
		}

		key := fmt.Sprintf("%s:%s", domain, ev.EventID)

		id, created, err := s.deps.Enqueuer.Enqueue(r.Context(), enqueue.Params{
			HandlerName:    handler.GenericWebhookName,
			Args:           []any{domain, ev.Payload},
			IdempotencyKey: &key,
		})
		if err != nil {
			WriteErrorResponse(w, r, s.logger, ServiceUnavailable(err.Error()))

			return
		}

		resp.Enqueued++
		resp.Jobs = append(resp.Jobs, EnqueueResponse{JobID: id, Created: created})
	}

	writeJSON(w, http.StatusAccepted, resp)
}

// handleProcessItem implements POST /process-item/{id}: a manual single-item
// enqueue keyed with a fresh nonce so repeated calls always produce a new
// job, unlike the webhook paths (spec.md §4.2, §4.7).
func (s *Server) handleProcessItem(w http.ResponseWriter, r *http.Request) {
	itemID := r.PathValue("id")

	body, err := decodeJSONObject(r, s.config.MaxRequestSize)
	if err != nil {
		writePayloadError(w, r, s.logger, err)

		return
	}

	nonce, err := oidc.RandomToken(16)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to generate nonce"))

		return
	}

	key := fmt.Sprintf("manual:%s:%s", itemID, nonce)

	id, created, err := s.deps.Enqueuer.Enqueue(r.Context(), enqueue.Params{
		HandlerName:    handler.GenericWebhookName,
		Args:           []any{itemID, body},
		IdempotencyKey: &key,
	})
	if err != nil {
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable(err.Error()))

		return
	}

	writeJSON(w, http.StatusAccepted, EnqueueResponse{JobID: id, Created: created})
}

// handleEnqueueJob implements POST /jobs/{logical-name}: a typed job enqueue
// with caller-supplied args/kwargs and optional idempotency key/max attempts
// overrides (spec.md §4.7).
func (s *Server) handleEnqueueJob(w http.ResponseWriter, r *http.Request) {
	logicalName := r.PathValue("logicalName")

	var req typedJobRequest

	dec := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxRequestSize+1))
	if err := dec.Decode(&req); err != nil {
		writePayloadError(w, r, s.logger, errInvalidJSON)

		return
	}

	var idempotencyKey *string
	if req.IdempotencyKey != "" {
		idempotencyKey = &req.IdempotencyKey
	}

	id, created, err := s.deps.Enqueuer.Enqueue(r.Context(), enqueue.Params{
		HandlerName:    logicalName,
		Args:           req.Args,
		Kwargs:         req.Kwargs,
		IdempotencyKey: idempotencyKey,
		MaxAttempts:    req.MaxAttempts,
	})
	if err != nil {
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable(err.Error()))

		return
	}

	writeJSON(w, http.StatusAccepted, EnqueueResponse{JobID: id, Created: created})
}

// handleGetJob implements GET /jobs/{id}: current status, attempts,
// last_error, and result. 404 if the id is unknown (spec.md §4.7).
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	job, err := s.deps.Store.Get(r.Context(), id)
	if err != nil {
		if jobstore.IsNotFound(err) {
			WriteErrorResponse(w, r, s.logger, NotFound(fmt.Sprintf("job %q not found", id)))

			return
		}

		WriteErrorResponse(w, r, s.logger, ServiceUnavailable(err.Error()))

		return
	}

	resp := JobStatusResponse{
		ID:          job.ID,
		Type:        job.Type,
		Status:      string(job.Status),
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
	}

	if job.LastError != nil {
		resp.LastError = *job.LastError
	}

	var payload struct {
		Result any `json:"result"`
	}

	if err := json.Unmarshal(job.Payload, &payload); err == nil {
		resp.Result = payload.Result
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
