package webhooks

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/resumeforge/dispatch/pkg/httputil"
	"github.com/resumeforge/dispatch/pkg/observability"
)

// OwnerIDHeader carries the authenticated user identity. The upstream
// gateway injects it after authenticating the caller.
const OwnerIDHeader = "X-User-ID"

// Delivery history paging bounds.
const (
	defaultDeliveryPageSize = 100
	maxDeliveryPageSize     = 1000
)

// EventTypeInfo is one entry of the event-type catalog.
type EventTypeInfo struct {
	Type        EventType `json:"type"`
	Description string    `json:"description"`
}

// TriggerEventRequest is the internal producer ingress payload.
type TriggerEventRequest struct {
	EventType EventType              `json:"event_type"`
	EntityID  string                 `json:"entity_id"`
	OwnerID   string                 `json:"owner_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Handlers exposes the subscription management API.
type Handlers struct {
	service    *SubscriptionService
	dispatcher *Dispatcher
	deliveries DeliveryStore
	logger     *observability.Logger
}

// NewHandlers creates the management API handlers.
func NewHandlers(service *SubscriptionService, dispatcher *Dispatcher, deliveries DeliveryStore, logger *observability.Logger) *Handlers {
	return &Handlers{
		service:    service,
		dispatcher: dispatcher,
		deliveries: deliveries,
		logger:     logger,
	}
}

// RegisterRoutes registers the management routes. Callers mount the router
// under their version prefix. The event-type catalog must be registered
// before the {id} routes so mux does not swallow it as an id.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks", h.createSubscription).Methods("POST")
	router.HandleFunc("/webhooks", h.listSubscriptions).Methods("GET")
	router.HandleFunc("/webhooks/event-types", h.listEventTypes).Methods("GET")
	router.HandleFunc("/webhooks/{id}", h.getSubscription).Methods("GET")
	router.HandleFunc("/webhooks/{id}", h.updateSubscription).Methods("PUT")
	router.HandleFunc("/webhooks/{id}", h.deleteSubscription).Methods("DELETE")
	router.HandleFunc("/webhooks/{id}/activate", h.activateSubscription).Methods("POST")
	router.HandleFunc("/webhooks/{id}/deactivate", h.deactivateSubscription).Methods("POST")
	router.HandleFunc("/webhooks/{id}/regenerate-secret", h.regenerateSecret).Methods("POST")
	router.HandleFunc("/webhooks/{id}/deliveries", h.listDeliveries).Methods("GET")
	router.HandleFunc("/webhooks/{id}/statistics", h.getStatistics).Methods("GET")
	router.HandleFunc("/internal/events/trigger", h.triggerEvent).Methods("POST")
}

// ownerID extracts the authenticated owner or writes a 401.
func (h *Handlers) ownerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := r.Header.Get(OwnerIDHeader)
	if owner == "" {
		httputil.WriteUnauthorized(w, "missing "+OwnerIDHeader+" header")
		return "", false
	}
	return owner, true
}

// writeError maps service errors onto HTTP responses.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case IsValidationError(err):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrSubscriptionNotFound), errors.Is(err, ErrDeliveryNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	default:
		logger := h.logger
		if requestID := observability.GetRequestID(r.Context()); requestID != "" {
			logger = logger.WithField("request_id", requestID)
		}
		logger.WithError(err).Error("Webhook API request failed")
		httputil.WriteInternalError(w, err)
	}
}

// createSubscription handles POST /webhooks
func (h *Handlers) createSubscription(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	var req RegisterRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	sub, err := h.service.Register(r.Context(), owner, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	// The secret appears in this response and never again.
	httputil.WriteCreated(w, sub)
}

// listSubscriptions handles GET /webhooks
func (h *Handlers) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	activeOnly, err := httputil.ParseQueryBool(r, "active_only", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	subs, err := h.service.List(r.Context(), owner, activeOnly)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]*WebhookSubscription, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub.Redacted())
	}
	httputil.WriteSuccess(w, out)
}

// getSubscription handles GET /webhooks/{id}
func (h *Handlers) getSubscription(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	sub, err := h.service.Get(r.Context(), owner, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, sub.Redacted())
}

// updateSubscription handles PUT /webhooks/{id}
func (h *Handlers) updateSubscription(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req UpdateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	sub, err := h.service.Update(r.Context(), owner, id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, sub.Redacted())
}

// deleteSubscription handles DELETE /webhooks/{id}
func (h *Handlers) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), owner, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// activateSubscription handles POST /webhooks/{id}/activate
func (h *Handlers) activateSubscription(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// deactivateSubscription handles POST /webhooks/{id}/deactivate
func (h *Handlers) deactivateSubscription(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *Handlers) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	owner, ok := h.ownerID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var (
		sub *WebhookSubscription
		err error
	)
	if active {
		sub, err = h.service.Activate(r.Context(), owner, id)
	} else {
		sub, err = h.service.Deactivate(r.Context(), owner, id)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, sub.Redacted())
}

// regenerateSecret handles POST /webhooks/{id}/regenerate-secret
func (h *Handlers) regenerateSecret(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	secret, err := h.service.RegenerateSecret(r.Context(), owner, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, map[string]string{
		"secret":  secret,
		"message": "Store this secret now; it will not be shown again.",
	})
}

// listDeliveries handles GET /webhooks/{id}/deliveries
func (h *Handlers) listDeliveries(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	// Ownership check before touching delivery history.
	if _, err := h.service.Get(r.Context(), owner, id); err != nil {
		h.writeError(w, r, err)
		return
	}

	status := DeliveryStatus(httputil.ParseQueryString(r, "status", ""))
	if status != "" && !status.Valid() {
		httputil.WriteBadRequest(w, fmt.Sprintf("unknown status %q", string(status)))
		return
	}

	limit, err := httputil.ParseQueryInt(r, "limit", defaultDeliveryPageSize)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if limit < 1 || limit > maxDeliveryPageSize {
		httputil.WriteBadRequest(w, fmt.Sprintf("limit must be between 1 and %d", maxDeliveryPageSize))
		return
	}

	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if offset < 0 {
		httputil.WriteBadRequest(w, "offset must not be negative")
		return
	}

	events, err := h.deliveries.ListBySubscription(r.Context(), id, status, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []*DeliveryEvent{}
	}
	httputil.WriteSuccess(w, events)
}

// getStatistics handles GET /webhooks/{id}/statistics
func (h *Handlers) getStatistics(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if _, err := h.service.Get(r.Context(), owner, id); err != nil {
		h.writeError(w, r, err)
		return
	}

	counts, err := h.deliveries.CountByStatus(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, NewDeliveryStats(counts))
}

// listEventTypes handles GET /webhooks/event-types
func (h *Handlers) listEventTypes(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.ownerID(w, r); !ok {
		return
	}

	types := AllEventTypes()
	catalog := make([]EventTypeInfo, 0, len(types))
	for _, t := range types {
		catalog = append(catalog, EventTypeInfo{Type: t, Description: t.Description()})
	}
	httputil.WriteSuccess(w, catalog)
}

// triggerEvent handles POST /internal/events/trigger. It is a
// service-to-service route; the gateway never exposes it to end users.
func (h *Handlers) triggerEvent(w http.ResponseWriter, r *http.Request) {
	var req TriggerEventRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	created, err := h.dispatcher.TriggerEvent(r.Context(), req.EventType, req.EntityID, req.Payload, req.OwnerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]int{"events_created": created})
}
