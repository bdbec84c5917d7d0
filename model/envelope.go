package model

import (
	"encoding/json"
	"fmt"
)

// InvokeRequest is the body POSTed to the gateway's invoke route.
type InvokeRequest struct {
	Payload InvokePayload `json:"payload"`
	// InvocationKey is an opaque caller label used by the gateway for tracing
	// and idempotency bookkeeping.
	InvocationKey string `json:"invocationKey"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *InvokeRequest) UnmarshalJSON(data []byte) error {
	var w struct {
		Payload       json.RawMessage `json:"payload"`
		InvocationKey string          `json:"invocationKey"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("model: decode invoke request: %w", err)
	}
	if isNull(w.Payload) {
		return fmt.Errorf("model: decode invoke request: payload is required")
	}
	p, err := DecodePayload(w.Payload)
	if err != nil {
		return err
	}
	r.Payload = p
	r.InvocationKey = w.InvocationKey
	return nil
}

// InvokeFailure describes an application-level failure reported by the
// gateway.
type InvokeFailure struct {
	Message string `json:"message"`
	// HTTPStatus is the upstream resource's status code, when it had one.
	HTTPStatus *int `json:"httpStatus,omitempty"`
}

// InvokeResponse is the envelope returned for every invocation. It holds
// either a result of type T or a failure, selected by OK, never both. The
// zero value is a failure with an empty message.
type InvokeResponse[T InvokeResult] struct {
	ok        bool
	requestID string
	result    T
	failure   InvokeFailure
}

// Succeeded returns a success envelope.
func Succeeded[T InvokeResult](requestID string, result T) InvokeResponse[T] {
	return InvokeResponse[T]{ok: true, requestID: requestID, result: result}
}

// Failed returns a failure envelope.
func Failed[T InvokeResult](requestID string, failure InvokeFailure) InvokeResponse[T] {
	return InvokeResponse[T]{requestID: requestID, failure: failure}
}

// OK reports whether the gateway completed the invocation successfully.
func (r InvokeResponse[T]) OK() bool { return r.ok }

// RequestID returns the gateway-assigned correlation identifier.
func (r InvokeResponse[T]) RequestID() string { return r.requestID }

// Result returns the result and true on success. On failure it returns the
// zero T and false.
func (r InvokeResponse[T]) Result() (T, bool) {
	if !r.ok {
		var zero T
		return zero, false
	}
	return r.result, true
}

// Failure returns the failure and true when the gateway reported one.
func (r InvokeResponse[T]) Failure() (InvokeFailure, bool) {
	if r.ok {
		return InvokeFailure{}, false
	}
	return r.failure, true
}

type successWire struct {
	OK        bool   `json:"ok"`
	RequestID string `json:"requestId"`
	Result    any    `json:"result"`
}

type failureWire struct {
	OK        bool          `json:"ok"`
	RequestID string        `json:"requestId"`
	Error     InvokeFailure `json:"error"`
}

// MarshalJSON implements json.Marshaler.
func (r InvokeResponse[T]) MarshalJSON() ([]byte, error) {
	if r.ok {
		return json.Marshal(successWire{OK: true, RequestID: r.requestID, Result: r.result})
	}
	return json.Marshal(failureWire{OK: false, RequestID: r.requestID, Error: r.failure})
}

// UnmarshalJSON implements json.Unmarshaler. A success arm whose result is not
// a T fails with ErrUnexpectedResult.
func (r *InvokeResponse[T]) UnmarshalJSON(data []byte) error {
	var w struct {
		OK        *bool           `json:"ok"`
		RequestID string          `json:"requestId"`
		Result    json.RawMessage `json:"result"`
		Error     *InvokeFailure  `json:"error"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("model: decode envelope: %w", err)
	}
	if w.OK == nil {
		return fmt.Errorf("model: decode envelope: missing ok field")
	}

	if !*w.OK {
		var failure InvokeFailure
		if w.Error != nil {
			failure = *w.Error
		}
		*r = Failed[T](w.RequestID, failure)
		return nil
	}

	if isNull(w.Result) {
		return fmt.Errorf("model: decode envelope: success without result")
	}
	res, err := DecodeResult(w.Result)
	if err != nil {
		return err
	}
	typed, err := Narrow[T](res)
	if err != nil {
		return err
	}
	*r = Succeeded(w.RequestID, typed)
	return nil
}

// DecodeResponse decodes an envelope without narrowing its result.
func DecodeResponse(data []byte) (InvokeResponse[InvokeResult], error) {
	var r InvokeResponse[InvokeResult]
	err := json.Unmarshal(data, &r)
	return r, err
}

// NarrowResponse re-types an envelope to the family-specific result type T.
// Failure envelopes always narrow.
func NarrowResponse[T InvokeResult](r InvokeResponse[InvokeResult]) (InvokeResponse[T], error) {
	if !r.ok {
		return Failed[T](r.requestID, r.failure), nil
	}
	typed, err := Narrow[T](r.result)
	if err != nil {
		return InvokeResponse[T]{}, err
	}
	return Succeeded(r.requestID, typed), nil
}
