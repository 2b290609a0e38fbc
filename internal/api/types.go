// Package api provides the HTTP API server for the job orchestration core.
package api

import "time"

type (
	// EnqueueResponse is returned by POST /jobs/{logical-name} and the
	// internal webhook/process-item handlers: the job id plus whether this
	// call actually created the row (false for an idempotent duplicate).
	EnqueueResponse struct {
		JobID   string `json:"job_id"`
		Created bool   `json:"created"`
	}

	// WebhookBatchResponse is returned by the domain-source webhook
	// endpoint, which may fan a single request out into N jobs.
	WebhookBatchResponse struct {
		Received int                `json:"received"`
		Enqueued int                `json:"enqueued"`
		Jobs     []EnqueueResponse  `json:"jobs"`
	}

	// JobStatusResponse is returned by GET /jobs/{id}.
	JobStatusResponse struct {
		ID          string `json:"id"`
		Type        string `json:"type"`
		Status      string `json:"status"`
		Attempts    int    `json:"attempts"`
		MaxAttempts int    `json:"max_attempts"` //nolint:tagliatelle
		LastError   string `json:"last_error,omitempty"`
		Result      any    `json:"result,omitempty"`
	}

	// HealthResponse is returned by GET /health.
	HealthResponse struct {
		Status string `json:"status"`
		Store  string `json:"store"`
		Broker string `json:"broker"`
	}

	// SessionResponse is returned by GET /auth/me.
	SessionResponse struct {
		Subject     string   `json:"subject"`
		Email       string   `json:"email,omitempty"`
		DisplayName string   `json:"display_name,omitempty"` //nolint:tagliatelle
		Groups      []string `json:"groups"`
		IsAdmin     bool     `json:"is_admin"` //nolint:tagliatelle
		ExpiresAt   time.Time `json:"expires_at"` //nolint:tagliatelle
	}

	// LogoutResponse is returned by POST /auth/logout.
	LogoutResponse struct {
		EndSessionURL string `json:"end_session_url,omitempty"` //nolint:tagliatelle
	}

	// DeepLinkGrantRequest is the body of POST /auth/deep-links.
	DeepLinkGrantRequest struct {
		SubjectID string `json:"subject_id"` //nolint:tagliatelle
		NextPath  string `json:"next_path"`  //nolint:tagliatelle
	}

	// DeepLinkGrantResponse is returned by POST /auth/deep-links.
	DeepLinkGrantResponse struct {
		Token string `json:"token"`
	}

	// AuditEventRequest is the body of POST /audit/events.
	AuditEventRequest struct {
		Source           string         `json:"source"`
		Action           string         `json:"action"`
		Result           string         `json:"result"`
		ActorProvider    string         `json:"actor_provider"`     //nolint:tagliatelle
		ActorSubject     string         `json:"actor_subject"`      //nolint:tagliatelle
		ActorDisplayName string         `json:"actor_display_name,omitempty"` //nolint:tagliatelle
		ResourceType     string         `json:"resource_type,omitempty"`      //nolint:tagliatelle
		ResourceID       string         `json:"resource_id,omitempty"`        //nolint:tagliatelle
		CorrelationID    string         `json:"correlation_id,omitempty"`     //nolint:tagliatelle
		Metadata         map[string]any `json:"metadata,omitempty"`
	}

	// genericWebhookRequest is the minimal expected shape of POST
	// /webhooks/{source}: any JSON object, with an optional "id" used as the
	// idempotency seed (spec.md §4.7).
	genericWebhookRequest map[string]any

	// typedJobRequest is the body of POST /jobs/{logical-name}: caller-supplied
	// positional/keyword args plus optional enqueue overrides.
	typedJobRequest struct {
		Args           []any          `json:"args"`
		Kwargs         map[string]any `json:"kwargs,omitempty"`
		IdempotencyKey string         `json:"idempotency_key,omitempty"` //nolint:tagliatelle
		MaxAttempts    int            `json:"max_attempts,omitempty"`    //nolint:tagliatelle
	}
)
