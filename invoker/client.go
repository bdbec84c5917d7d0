// Package invoker dispatches typed invocations to the resource gateway.
//
// A Client turns one payload into one POST against the gateway's invoke
// route and decodes the reply into an envelope. Transport-level failures are
// returned as *model.InvocationError; an ok:false envelope is a completed
// round trip and is returned as data.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/appgate/internal/observability"
	"github.com/pitabwire/appgate/model"
)

// DefaultEndUserHeader carries the end user's credential to the gateway.
const DefaultEndUserHeader = "X-User-Authorization"

var errNoResponse = errors.New("transport returned no response")

// Outcome labels reported to a Recorder.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
	OutcomeError  = "error"
)

// Recorder observes completed invocations.
type Recorder interface {
	ObserveInvocation(kind model.ResourceKind, outcome string, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveInvocation(model.ResourceKind, string, time.Duration) {}

// Client invokes resources through the gateway. It is immutable after New
// and safe for concurrent use.
type Client struct {
	baseURL       string
	serviceToken  string
	transport     Transport
	logger        *zap.Logger
	recorder      Recorder
	endUserHeader string
}

// Option configures a Client.
type Option func(*Client)

// WithTransport replaces the default HTTP transport.
func WithTransport(t Transport) Option {
	return func(c *Client) {
		if t != nil {
			c.transport = t
		}
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRecorder sets the invocation recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Client) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithEndUserHeader overrides the header used to forward the end-user
// credential.
func WithEndUserHeader(name string) Option {
	return func(c *Client) {
		if name = strings.TrimSpace(name); name != "" {
			c.endUserHeader = http.CanonicalHeaderKey(name)
		}
	}
}

// New creates a Client for the gateway at baseURL, authenticating with
// serviceToken. Trailing slashes on baseURL are ignored.
func New(baseURL, serviceToken string, opts ...Option) (*Client, error) {
	base, err := normalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	if serviceToken == "" {
		return nil, errors.New("invoker: service token is required")
	}

	c := &Client{
		baseURL:       base,
		serviceToken:  serviceToken,
		transport:     NewHTTPTransport(),
		logger:        zap.NewNop(),
		recorder:      nopRecorder{},
		endUserHeader: DefaultEndUserHeader,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the normalized gateway endpoint.
func (c *Client) BaseURL() string { return c.baseURL }

func normalizeBaseURL(raw string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return "", errors.New("invoker: base URL is required")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invoker: parse base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invoker: base URL %q must be absolute", raw)
	}
	return trimmed, nil
}

// Invoke sends payload to the resource identified by applicationID and
// resourceID and returns the gateway's envelope, including ok:false
// envelopes. rctx may be nil; when it carries an end-user token the token is
// forwarded verbatim. Exactly one request is made. Any failure to complete the
// round trip is returned as a *model.InvocationError.
func (c *Client) Invoke(
	ctx context.Context,
	rctx *model.RequestContext,
	applicationID, resourceID string,
	payload model.InvokePayload,
	invocationKey string,
) (model.InvokeResponse[model.InvokeResult], error) {
	if payload == nil {
		return model.InvokeResponse[model.InvokeResult]{}, &model.InvocationError{
			Message: "payload is required",
			Err:     model.ErrInvalidPayload,
		}
	}
	kind := payload.Kind()

	ctx, span := observability.StartSpan(ctx, "appgate.invoke",
		observability.AttrApplicationID.String(applicationID),
		observability.AttrResourceID.String(resourceID),
		observability.AttrResourceKind.String(kind.String()),
		observability.AttrInvocationKey.String(invocationKey),
	)
	start := time.Now()

	resp, err := c.roundTrip(ctx, rctx, applicationID, resourceID, payload, invocationKey)

	duration := time.Since(start)
	outcome := OutcomeOK
	switch {
	case err != nil:
		outcome = OutcomeError
	case !resp.OK():
		outcome = OutcomeFailed
	}
	c.recorder.ObserveInvocation(kind, outcome, duration)

	if err == nil {
		span.SetAttributes(observability.AttrRequestID.String(resp.RequestID()))
	}
	observability.EndSpanWithError(span, err)

	fields := []zap.Field{
		zap.String("application_id", applicationID),
		zap.String("resource_id", resourceID),
		zap.Stringer("kind", kind),
		zap.String("invocation_key", invocationKey),
		zap.String("outcome", outcome),
		zap.Duration("duration", duration),
	}
	if err != nil {
		c.logger.Debug("invoker: invocation error", append(fields, zap.Error(err))...)
	} else {
		c.logger.Debug("invoker: invocation completed", append(fields, zap.String("request_id", resp.RequestID()))...)
	}
	return resp, err
}

func (c *Client) roundTrip(
	ctx context.Context,
	rctx *model.RequestContext,
	applicationID, resourceID string,
	payload model.InvokePayload,
	invocationKey string,
) (model.InvokeResponse[model.InvokeResult], error) {
	var none model.InvokeResponse[model.InvokeResult]

	if err := payload.Validate(); err != nil {
		return none, model.NewInvocationError(err)
	}

	reqURL, err := c.invokeURL(applicationID, resourceID)
	if err != nil {
		return none, model.NewInvocationError(err)
	}

	body, err := json.Marshal(model.InvokeRequest{Payload: payload, InvocationKey: invocationKey})
	if err != nil {
		return none, model.NewInvocationError(fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return none, model.NewInvocationError(err)
	}
	c.setHeaders(ctx, req, rctx)

	resp, err := c.transport.Do(req)
	if err != nil {
		return none, model.NewInvocationError(err)
	}
	if resp == nil || resp.Body == nil {
		ie := &model.InvocationError{Message: "transport returned no response", Err: errNoResponse}
		if resp != nil {
			ie.HTTPStatus = resp.StatusCode
			ie.RequestID = resp.Header.Get("X-Request-Id")
		}
		return none, ie
	}
	defer resp.Body.Close()

	requestID := resp.Header.Get("X-Request-Id")
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return none, &model.InvocationError{
			Message:    err.Error(),
			HTTPStatus: resp.StatusCode,
			RequestID:  requestID,
			Err:        err,
		}
	}

	// The envelope is authoritative regardless of the HTTP status.
	envelope, err := model.DecodeResponse(data)
	if err != nil {
		if id := envelopeRequestID(data); id != "" {
			requestID = id
		}
		return none, &model.InvocationError{
			Message:    err.Error(),
			HTTPStatus: resp.StatusCode,
			RequestID:  requestID,
			Err:        err,
		}
	}
	return envelope, nil
}

// envelopeRequestID returns the requestId of a body that parses as a JSON
// object, even when the rest of the envelope does not decode.
func envelopeRequestID(data []byte) string {
	var head struct {
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return ""
	}
	return head.RequestID
}

func (c *Client) invokeURL(applicationID, resourceID string) (string, error) {
	if strings.TrimSpace(applicationID) == "" {
		return "", fmt.Errorf("%w: application id is required", model.ErrInvalidTarget)
	}
	if strings.TrimSpace(resourceID) == "" {
		return "", fmt.Errorf("%w: resource id is required", model.ErrInvalidTarget)
	}
	return c.baseURL + "/internal/apps/v1/" + url.PathEscape(applicationID) +
		"/resource/" + url.PathEscape(resourceID) + "/invoke", nil
}

func (c *Client) setHeaders(ctx context.Context, req *http.Request, rctx *model.RequestContext) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.serviceToken)

	if rctx != nil {
		if rctx.EndUserToken != "" {
			req.Header.Set(c.endUserHeader, rctx.EndUserToken)
		}
		if rctx.CorrelationID != "" {
			req.Header.Set("X-Correlation-Id", rctx.CorrelationID)
		}
	}

	observability.InjectTraceHeaders(ctx, req.Header)
}
