package invoker

import (
	"context"

	"github.com/google/uuid"

	"github.com/pitabwire/appgate/model"
)

// Target addresses one resource instance on the gateway.
type Target struct {
	ApplicationID string
	ResourceID    string
	// InvocationKey is passed to the gateway untouched.
	InvocationKey string
}

// NewTarget returns a Target with a freshly generated invocation key.
func NewTarget(applicationID, resourceID string) Target {
	return Target{
		ApplicationID: applicationID,
		ResourceID:    resourceID,
		InvocationKey: uuid.NewString(),
	}
}

// Database runs a SQL statement on a PostgreSQL resource. The payload's
// timeout is passed through unchanged.
func (c *Client) Database(ctx context.Context, rctx *model.RequestContext, t Target, p model.DatabasePayload) (model.InvokeResponse[*model.DatabaseResult], error) {
	return invokeAs[*model.DatabaseResult](ctx, c, rctx, t, p)
}

// CustomAPI calls a custom REST API resource. An unset timeout becomes
// model.DefaultAPITimeoutMs; a supplied one, zero included, is sent as is.
func (c *Client) CustomAPI(ctx context.Context, rctx *model.RequestContext, t Target, p model.CustomAPIPayload) (model.InvokeResponse[*model.APIResult], error) {
	if p.TimeoutMs == nil {
		p = p.WithTimeout(model.DefaultAPITimeoutMs)
	}
	return invokeAs[*model.APIResult](ctx, c, rctx, t, p)
}

// HubSpot calls the HubSpot API through the gateway, which injects the
// credentials. An unset timeout becomes model.DefaultAPITimeoutMs.
func (c *Client) HubSpot(ctx context.Context, rctx *model.RequestContext, t Target, p model.HubSpotPayload) (model.InvokeResponse[*model.APIResult], error) {
	if p.TimeoutMs == nil {
		p = p.WithTimeout(model.DefaultAPITimeoutMs)
	}
	return invokeAs[*model.APIResult](ctx, c, rctx, t, p)
}

// Storage issues an S3 command. GeneratePresignedUrl yields a
// *model.PresignedURLResult, every other command a *model.StorageResult.
func (c *Client) Storage(ctx context.Context, rctx *model.RequestContext, t Target, p model.StoragePayload) (model.InvokeResponse[model.StorageOutcome], error) {
	return invokeAs[model.StorageOutcome](ctx, c, rctx, t, p)
}

func invokeAs[T model.InvokeResult](
	ctx context.Context,
	c *Client,
	rctx *model.RequestContext,
	t Target,
	p model.InvokePayload,
) (model.InvokeResponse[T], error) {
	resp, err := c.Invoke(ctx, rctx, t.ApplicationID, t.ResourceID, p, t.InvocationKey)
	if err != nil {
		return model.InvokeResponse[T]{}, err
	}
	typed, err := model.NarrowResponse[T](resp)
	if err != nil {
		return model.InvokeResponse[T]{}, &model.InvocationError{
			Message:   err.Error(),
			RequestID: resp.RequestID(),
			Err:       err,
		}
	}
	return typed, nil
}
