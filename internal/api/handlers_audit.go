package api

import (
	"encoding/json"
	"net/http"

	"github.com/opsplatform/jobcore/internal/audit"
)

// handleAuditEvent implements POST /audit/events: validates and normalizes
// a caller-supplied audit event and hands it to the Audit Sink for
// best-effort, asynchronous persistence (spec.md §4.10).
func (s *Server) handleAuditEvent(w http.ResponseWriter, r *http.Request) {
	var req AuditEventRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writePayloadError(w, r, s.logger, errInvalidJSON)

		return
	}

	if req.Source == "" || req.Action == "" || req.Result == "" ||
		req.ActorProvider == "" || req.ActorSubject == "" {
		WriteErrorResponse(w, r, s.logger,
			BadRequest("source, action, result, actor_provider, and actor_subject are required"))

		return
	}

	ev := audit.Event{
		Source:        audit.Source(req.Source),
		Action:        req.Action,
		Result:        audit.Result(req.Result),
		ActorProvider: audit.ActorProvider(req.ActorProvider),
		ActorSubject:  req.ActorSubject,
		Metadata:      req.Metadata,
	}

	if req.ActorDisplayName != "" {
		ev.ActorDisplayName = ptr(req.ActorDisplayName)
	}

	if req.ResourceType != "" {
		ev.ResourceType = ptr(req.ResourceType)
	}

	if req.ResourceID != "" {
		ev.ResourceID = ptr(req.ResourceID)
	}

	if req.CorrelationID != "" {
		ev.CorrelationID = ptr(req.CorrelationID)
	}

	s.recordAudit(ev)

	w.WriteHeader(http.StatusAccepted)
}
