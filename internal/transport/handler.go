package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pitabwire/appgate/internal/observability"
	"github.com/pitabwire/appgate/internal/resource"
	"github.com/pitabwire/appgate/model"
)

const maxRequestBytes = 5 << 20

// Invoker sends one invocation to the resource gateway. *invoker.Client
// satisfies it.
type Invoker interface {
	Invoke(
		ctx context.Context,
		rctx *model.RequestContext,
		applicationID, resourceID string,
		payload model.InvokePayload,
		invocationKey string,
	) (model.InvokeResponse[model.InvokeResult], error)
}

// ResourceHandler serves the resource listing and invocation routes.
type ResourceHandler struct {
	catalog *resource.Catalog
	invoker Invoker
	logger  *zap.Logger
}

// NewResourceHandler creates a handler over the given catalog and invoker.
func NewResourceHandler(catalog *resource.Catalog, inv Invoker, logger *zap.Logger) *ResourceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResourceHandler{catalog: catalog, invoker: inv, logger: logger}
}

type resourceList struct {
	Resources []resource.Binding `json:"resources"`
}

// List handles GET /v1/resources.
func (h *ResourceHandler) List(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, resourceList{Resources: h.catalog.List()})
}

// Get handles GET /v1/resources/{alias}.
func (h *ResourceHandler) Get(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "alias")
	b, ok := h.catalog.Lookup(alias)
	if !ok {
		WriteNotFound(w, "Unknown resource "+alias)
		return
	}
	WriteJSON(w, http.StatusOK, b)
}

// Invoke handles POST /v1/resources/{alias}/invoke. A completed round trip
// is written back verbatim with status 200, including ok:false envelopes.
// Only a failed round trip becomes an error response.
func (h *ResourceHandler) Invoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	alias := chi.URLParam(r, "alias")
	logger := observability.LoggerFrom(ctx, h.logger).With(zap.String("resource_alias", alias))

	trace.SpanFromContext(ctx).SetAttributes(observability.AttrResourceAlias.String(alias))

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		WriteError(w, model.NewBadRequestError("Unable to read request body"))
		return
	}
	var req model.InvokeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		WriteError(w, model.NewBadRequestError(err.Error()))
		return
	}

	binding, err := h.catalog.Bind(alias, req.Payload)
	if err != nil {
		WriteError(w, bindErrorEnvelope(err))
		return
	}
	if err := req.Payload.Validate(); err != nil {
		WriteError(w, model.NewBadRequestError(err.Error()))
		return
	}

	key := req.InvocationKey
	if key == "" {
		key = r.Header.Get("X-Idempotency-Key")
	}
	if key == "" {
		key = uuid.NewString()
	}

	resp, err := h.invoker.Invoke(ctx, model.RequestContextFrom(ctx),
		binding.ApplicationID, binding.ResourceID, req.Payload, key)
	if err != nil {
		logger.Warn("invocation failed", zap.String("invocation_key", key), zap.Error(err))
		WriteError(w, invocationErrorEnvelope(err))
		return
	}

	if !resp.OK() {
		failure, _ := resp.Failure()
		logger.Warn("invocation reported failure",
			zap.String("invocation_key", key),
			zap.String("request_id", resp.RequestID()),
			zap.String("message", failure.Message),
		)
	}
	WriteJSON(w, http.StatusOK, resp)
}

func bindErrorEnvelope(err error) *model.ErrorEnvelope {
	var mismatch *resource.KindMismatchError
	switch {
	case errors.As(err, &mismatch):
		return model.NewKindMismatchError(mismatch.Want, mismatch.Got)
	case errors.Is(err, resource.ErrUnknownResource):
		return model.NewNotFoundError(err.Error())
	default:
		return model.NewBadRequestError(err.Error())
	}
}
