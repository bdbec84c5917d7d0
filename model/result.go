package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// InvokeResult is the result of a successful invocation. It is one of
// *DatabaseResult, *APIResult, *StorageResult or *PresignedURLResult.
type InvokeResult interface {
	ResultKind() ResultKind
	isInvokeResult()
}

// StorageOutcome is the result of a storage invocation: either a generic
// *StorageResult or, for GeneratePresignedUrl, a *PresignedURLResult.
type StorageOutcome interface {
	InvokeResult
	isStorageOutcome()
}

// DatabaseResult holds the rows returned by a SQL statement.
type DatabaseResult struct {
	Rows         []map[string]any
	RowsAffected *int64
}

// APIResult holds the upstream status and body of an HTTP-style call.
type APIResult struct {
	Status int
	Body   Body
}

// StorageResult holds the raw SDK-shaped output of a storage command.
type StorageResult struct {
	Command string
	Data    any
}

// PresignedURLResult holds a time-limited URL for direct storage access.
type PresignedURLResult struct {
	PresignedURL string
	// ExpiresAt is an ISO-8601 timestamp.
	ExpiresAt string
}

func (*DatabaseResult) ResultKind() ResultKind     { return ResultDatabase }
func (*APIResult) ResultKind() ResultKind          { return ResultAPI }
func (*StorageResult) ResultKind() ResultKind      { return ResultStorage }
func (*PresignedURLResult) ResultKind() ResultKind { return ResultStorage }

func (*DatabaseResult) isInvokeResult()     {}
func (*APIResult) isInvokeResult()          {}
func (*StorageResult) isInvokeResult()      {}
func (*PresignedURLResult) isInvokeResult() {}

func (*StorageResult) isStorageOutcome()      {}
func (*PresignedURLResult) isStorageOutcome() {}

// Expiry parses ExpiresAt.
func (r *PresignedURLResult) Expiry() (time.Time, error) {
	return time.Parse(time.RFC3339, r.ExpiresAt)
}

// --- wire encoding ---

type databaseResultWire struct {
	Kind         ResultKind       `json:"kind"`
	Rows         []map[string]any `json:"rows"`
	RowsAffected *int64           `json:"rowsAffected,omitempty"`
}

type apiResultWire struct {
	Kind   ResultKind `json:"kind"`
	Status int        `json:"status"`
	Body   Body       `json:"body,omitempty"`
}

type storageResultWire struct {
	Kind    ResultKind `json:"kind"`
	Command string     `json:"command"`
	Data    any        `json:"data"`
}

type presignedResultWire struct {
	Kind         ResultKind `json:"kind"`
	PresignedURL string     `json:"presignedUrl"`
	ExpiresAt    string     `json:"expiresAt"`
}

// MarshalJSON implements json.Marshaler.
func (r *DatabaseResult) MarshalJSON() ([]byte, error) {
	rows := r.Rows
	if rows == nil {
		rows = []map[string]any{}
	}
	return json.Marshal(databaseResultWire{Kind: ResultDatabase, Rows: rows, RowsAffected: r.RowsAffected})
}

// MarshalJSON implements json.Marshaler.
func (r *APIResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(apiResultWire{Kind: ResultAPI, Status: r.Status, Body: r.Body})
}

// MarshalJSON implements json.Marshaler.
func (r *StorageResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(storageResultWire{Kind: ResultStorage, Command: r.Command, Data: r.Data})
}

// MarshalJSON implements json.Marshaler.
func (r *PresignedURLResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(presignedResultWire{Kind: ResultStorage, PresignedURL: r.PresignedURL, ExpiresAt: r.ExpiresAt})
}

// DecodeResult decodes a result by its kind discriminator.
func DecodeResult(data []byte) (InvokeResult, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("model: decode result: %w", err)
	}
	var kind ResultKind
	if raw, ok := fields["kind"]; ok {
		_ = json.Unmarshal(raw, &kind)
	}

	switch kind {
	case ResultDatabase:
		var w databaseResultWire
		if err := unmarshalNumbers(data, &w); err != nil {
			return nil, fmt.Errorf("model: decode database result: %w", err)
		}
		return &DatabaseResult{Rows: w.Rows, RowsAffected: w.RowsAffected}, nil
	case ResultAPI:
		var w struct {
			Status int `json:"status"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("model: decode api result: %w", err)
		}
		body, err := DecodeBody(fields["body"])
		if err != nil {
			return nil, err
		}
		return &APIResult{Status: w.Status, Body: body}, nil
	case ResultStorage:
		if _, ok := fields["presignedUrl"]; ok {
			var w presignedResultWire
			if err := json.Unmarshal(data, &w); err != nil {
				return nil, fmt.Errorf("model: decode presigned url result: %w", err)
			}
			return &PresignedURLResult{PresignedURL: w.PresignedURL, ExpiresAt: w.ExpiresAt}, nil
		}
		var w storageResultWire
		if err := unmarshalNumbers(data, &w); err != nil {
			return nil, fmt.Errorf("model: decode storage result: %w", err)
		}
		return &StorageResult{Command: w.Command, Data: w.Data}, nil
	default:
		return nil, fmt.Errorf("model: unknown result kind %q", kind)
	}
}

// Narrow returns r as the family-specific result type T. It fails with
// ErrUnexpectedResult when r is of another family.
func Narrow[T InvokeResult](r InvokeResult) (T, error) {
	t, ok := r.(T)
	if !ok {
		var zero T
		got := "no"
		if r != nil {
			got = string(r.ResultKind())
		}
		return zero, fmt.Errorf("%w: got %s result", ErrUnexpectedResult, got)
	}
	return t, nil
}
