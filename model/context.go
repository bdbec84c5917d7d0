package model

import "context"

// RequestContext carries the caller identity for one invocation. The
// dispatcher receives it as an explicit argument; it is never read from
// global state. It is immutable after construction and safe for concurrent
// reads.
type RequestContext struct {
	// EndUserToken is the end user's credential, forwarded verbatim to the
	// gateway when non-empty.
	EndUserToken  string
	SubjectID     string
	TenantID      string
	CorrelationID string
	Claims        map[string]any
}

// Claim returns the value of the given claim key, or nil if not present.
func (rc *RequestContext) Claim(key string) any {
	if rc.Claims == nil {
		return nil
	}
	return rc.Claims[key]
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to the given context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom extracts the RequestContext from the context, or returns nil
// if not present.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}
