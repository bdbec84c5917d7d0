package model

import (
	"encoding/json"
	"fmt"
	"maps"
	"sort"
	"strings"
)

// DefaultAPITimeoutMs is the timeout applied to HTTP-style payloads when the
// caller does not supply one.
const DefaultAPITimeoutMs = 30000

// InvokePayload is the request payload of one invocation. It is one of
// DatabasePayload, CustomAPIPayload, HubSpotPayload or StoragePayload; the
// concrete type fixes both the (type, subtype) tag and the legal fields.
type InvokePayload interface {
	Kind() ResourceKind
	Validate() error
	isInvokePayload()
}

// DatabasePayload runs one SQL statement against a PostgreSQL resource.
type DatabasePayload struct {
	SQL string
	// Params holds positional parameters; each must be a string, number,
	// bool or nil.
	Params    []any
	TimeoutMs *int
}

// CustomAPIPayload calls a path on a custom REST API resource.
type CustomAPIPayload struct {
	Method    HTTPMethod
	Path      string
	Query     Query
	Headers   map[string]string
	Body      Body
	// TimeoutMs is sent as DefaultAPITimeoutMs when nil.
	TimeoutMs *int
}

// HubSpotPayload calls a path on the HubSpot API. Headers are not caller
// controlled; the gateway injects authentication.
type HubSpotPayload struct {
	Method    HTTPMethod
	Path      string
	Query     Query
	Body      Body
	// TimeoutMs is sent as DefaultAPITimeoutMs when nil.
	TimeoutMs *int
}

// StoragePayload issues one storage command. Params use the storage SDK's
// field names and are passed through untouched.
type StoragePayload struct {
	Command   StorageCommand
	Params    map[string]any
	TimeoutMs *int
}

func (DatabasePayload) Kind() ResourceKind  { return KindPostgreSQL }
func (CustomAPIPayload) Kind() ResourceKind { return KindCustomAPI }
func (HubSpotPayload) Kind() ResourceKind   { return KindHubSpot }
func (StoragePayload) Kind() ResourceKind   { return KindS3 }

func (DatabasePayload) isInvokePayload()  {}
func (CustomAPIPayload) isInvokePayload() {}
func (HubSpotPayload) isInvokePayload()   {}
func (StoragePayload) isInvokePayload()   {}

// --- constructors ---

// NewDatabasePayload returns a database payload for sql with the given
// positional parameters.
func NewDatabasePayload(sql string, params ...any) DatabasePayload {
	p := DatabasePayload{SQL: sql}
	if len(params) > 0 {
		p.Params = append([]any(nil), params...)
	}
	return p
}

// WithTimeout returns a copy of p with the timeout set.
func (p DatabasePayload) WithTimeout(ms int) DatabasePayload {
	p.TimeoutMs = &ms
	return p
}

// NewCustomAPIPayload returns a custom API payload with the default timeout.
func NewCustomAPIPayload(method HTTPMethod, path string) CustomAPIPayload {
	return CustomAPIPayload{Method: method, Path: path, TimeoutMs: defaultAPITimeout()}
}

// WithQuery returns a copy of p with the query set.
func (p CustomAPIPayload) WithQuery(q Query) CustomAPIPayload {
	p.Query = maps.Clone(q)
	return p
}

// WithHeaders returns a copy of p with the headers set.
func (p CustomAPIPayload) WithHeaders(h map[string]string) CustomAPIPayload {
	p.Headers = maps.Clone(h)
	return p
}

// WithBody returns a copy of p with the body set.
func (p CustomAPIPayload) WithBody(b Body) CustomAPIPayload {
	p.Body = b
	return p
}

// WithTimeout returns a copy of p with the timeout set.
func (p CustomAPIPayload) WithTimeout(ms int) CustomAPIPayload {
	p.TimeoutMs = &ms
	return p
}

// EffectiveTimeoutMs returns the timeout that goes on the wire.
func (p CustomAPIPayload) EffectiveTimeoutMs() int { return timeoutOrDefault(p.TimeoutMs) }

// NewHubSpotPayload returns a HubSpot payload with the default timeout.
func NewHubSpotPayload(method HTTPMethod, path string) HubSpotPayload {
	return HubSpotPayload{Method: method, Path: path, TimeoutMs: defaultAPITimeout()}
}

// WithQuery returns a copy of p with the query set.
func (p HubSpotPayload) WithQuery(q Query) HubSpotPayload {
	p.Query = maps.Clone(q)
	return p
}

// WithBody returns a copy of p with the body set.
func (p HubSpotPayload) WithBody(b Body) HubSpotPayload {
	p.Body = b
	return p
}

// WithTimeout returns a copy of p with the timeout set.
func (p HubSpotPayload) WithTimeout(ms int) HubSpotPayload {
	p.TimeoutMs = &ms
	return p
}

// EffectiveTimeoutMs returns the timeout that goes on the wire.
func (p HubSpotPayload) EffectiveTimeoutMs() int { return timeoutOrDefault(p.TimeoutMs) }

// NewStoragePayload returns a storage payload for the given command.
func NewStoragePayload(command StorageCommand, params map[string]any) StoragePayload {
	return StoragePayload{Command: command, Params: maps.Clone(params)}
}

// WithTimeout returns a copy of p with the timeout set.
func (p StoragePayload) WithTimeout(ms int) StoragePayload {
	p.TimeoutMs = &ms
	return p
}

// --- validation ---

// Validate checks the structural shape of the payload. SQL text is not
// inspected.
func (p DatabasePayload) Validate() error {
	for i, v := range p.Params {
		if !isScalar(v) {
			return fmt.Errorf("%w: params[%d] has unsupported type %T", ErrInvalidPayload, i, v)
		}
	}
	if p.TimeoutMs != nil && *p.TimeoutMs < 0 {
		return fmt.Errorf("%w: timeoutMs must not be negative", ErrInvalidPayload)
	}
	return nil
}

// Validate checks the method, path and timeout.
func (p CustomAPIPayload) Validate() error {
	return validateHTTP(p.Method, p.Path, p.TimeoutMs)
}

// Validate checks the method, path and timeout.
func (p HubSpotPayload) Validate() error {
	return validateHTTP(p.Method, p.Path, p.TimeoutMs)
}

// Validate checks the command and timeout. Per-command params are not
// inspected.
func (p StoragePayload) Validate() error {
	if !p.Command.Valid() {
		return fmt.Errorf("%w: unknown storage command %q", ErrInvalidPayload, p.Command)
	}
	if p.TimeoutMs != nil && *p.TimeoutMs < 0 {
		return fmt.Errorf("%w: timeoutMs must not be negative", ErrInvalidPayload)
	}
	return nil
}

func validateHTTP(method HTTPMethod, path string, timeoutMs *int) error {
	if !method.Valid() {
		return fmt.Errorf("%w: unsupported method %q", ErrInvalidPayload, method)
	}
	if path == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidPayload)
	}
	if timeoutMs != nil && *timeoutMs < 0 {
		return fmt.Errorf("%w: timeoutMs must not be negative", ErrInvalidPayload)
	}
	return nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

// --- wire encoding ---

type databaseWire struct {
	Type      ResourceType    `json:"type"`
	Subtype   ResourceSubtype `json:"subtype"`
	SQL       string          `json:"sql"`
	Params    []any           `json:"params,omitempty"`
	TimeoutMs *int            `json:"timeoutMs,omitempty"`
}

type customWire struct {
	Type      ResourceType      `json:"type"`
	Subtype   ResourceSubtype   `json:"subtype"`
	Method    HTTPMethod        `json:"method"`
	Path      string            `json:"path"`
	Query     Query             `json:"query,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      Body              `json:"body,omitempty"`
	TimeoutMs int               `json:"timeoutMs"`
}

type hubSpotWire struct {
	Type      ResourceType    `json:"type"`
	Subtype   ResourceSubtype `json:"subtype"`
	Method    HTTPMethod      `json:"method"`
	Path      string          `json:"path"`
	Query     Query           `json:"query,omitempty"`
	Body      Body            `json:"body,omitempty"`
	TimeoutMs int             `json:"timeoutMs"`
}

type storageWire struct {
	Type      ResourceType    `json:"type"`
	Subtype   ResourceSubtype `json:"subtype"`
	Command   StorageCommand  `json:"command"`
	Params    map[string]any  `json:"params"`
	TimeoutMs *int            `json:"timeoutMs,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (p DatabasePayload) MarshalJSON() ([]byte, error) {
	return json.Marshal(databaseWire{
		Type: TypeDatabase, Subtype: SubtypePostgreSQL,
		SQL: p.SQL, Params: p.Params, TimeoutMs: p.TimeoutMs,
	})
}

// MarshalJSON implements json.Marshaler.
func (p CustomAPIPayload) MarshalJSON() ([]byte, error) {
	return json.Marshal(customWire{
		Type: TypeAPI, Subtype: SubtypeCustom,
		Method: p.Method, Path: p.Path, Query: p.Query, Headers: p.Headers,
		Body: p.Body, TimeoutMs: p.EffectiveTimeoutMs(),
	})
}

// MarshalJSON implements json.Marshaler.
func (p HubSpotPayload) MarshalJSON() ([]byte, error) {
	return json.Marshal(hubSpotWire{
		Type: TypeAPI, Subtype: SubtypeHubSpot,
		Method: p.Method, Path: p.Path, Query: p.Query,
		Body: p.Body, TimeoutMs: p.EffectiveTimeoutMs(),
	})
}

// MarshalJSON implements json.Marshaler.
func (p StoragePayload) MarshalJSON() ([]byte, error) {
	params := p.Params
	if params == nil {
		params = map[string]any{}
	}
	return json.Marshal(storageWire{
		Type: TypeStorage, Subtype: SubtypeS3,
		Command: p.Command, Params: params, TimeoutMs: p.TimeoutMs,
	})
}

// payloadFields lists the keys legal for each family on the wire.
var payloadFields = map[ResourceKind][]string{
	KindPostgreSQL: {"type", "subtype", "sql", "params", "timeoutMs"},
	KindCustomAPI:  {"type", "subtype", "method", "path", "query", "headers", "body", "timeoutMs"},
	KindHubSpot:    {"type", "subtype", "method", "path", "query", "body", "timeoutMs"},
	KindS3:         {"type", "subtype", "command", "params", "timeoutMs"},
}

// DecodePayload decodes a tagged payload. It rejects unknown tags and any
// field that does not belong to the payload's family.
func DecodePayload(data []byte) (InvokePayload, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("model: decode payload: %w", err)
	}

	var typ, subtype string
	if raw, ok := fields["type"]; ok {
		_ = json.Unmarshal(raw, &typ)
	}
	if raw, ok := fields["subtype"]; ok {
		_ = json.Unmarshal(raw, &subtype)
	}
	kind, err := ParseResourceKind(typ, subtype)
	if err != nil {
		return nil, err
	}

	if foreign := foreignFields(kind, fields); len(foreign) > 0 {
		return nil, fmt.Errorf("model: fields %s are not legal for %s payloads",
			strings.Join(foreign, ", "), kind)
	}

	switch kind {
	case KindPostgreSQL:
		var w databaseWire
		if err := unmarshalNumbers(data, &w); err != nil {
			return nil, fmt.Errorf("model: decode database payload: %w", err)
		}
		return DatabasePayload{SQL: w.SQL, Params: w.Params, TimeoutMs: w.TimeoutMs}, nil
	case KindCustomAPI:
		w, body, err := decodeHTTPWire(data, fields)
		if err != nil {
			return nil, err
		}
		return CustomAPIPayload{
			Method: w.Method, Path: w.Path, Query: w.Query, Headers: w.Headers,
			Body: body, TimeoutMs: wireTimeout(w.TimeoutMs),
		}, nil
	case KindHubSpot:
		w, body, err := decodeHTTPWire(data, fields)
		if err != nil {
			return nil, err
		}
		return HubSpotPayload{
			Method: w.Method, Path: w.Path, Query: w.Query,
			Body: body, TimeoutMs: wireTimeout(w.TimeoutMs),
		}, nil
	default:
		var w storageWire
		if err := unmarshalNumbers(data, &w); err != nil {
			return nil, fmt.Errorf("model: decode storage payload: %w", err)
		}
		return StoragePayload{Command: w.Command, Params: w.Params, TimeoutMs: w.TimeoutMs}, nil
	}
}

type httpWireIn struct {
	Method    HTTPMethod        `json:"method"`
	Path      string            `json:"path"`
	Query     Query             `json:"query"`
	Headers   map[string]string `json:"headers"`
	TimeoutMs *int              `json:"timeoutMs"`
}

func decodeHTTPWire(data []byte, fields map[string]json.RawMessage) (httpWireIn, Body, error) {
	var w httpWireIn
	if err := json.Unmarshal(data, &w); err != nil {
		return w, nil, fmt.Errorf("model: decode api payload: %w", err)
	}
	body, err := DecodeBody(fields["body"])
	if err != nil {
		return w, nil, err
	}
	return w, body, nil
}

func timeoutOrDefault(ms *int) int {
	if ms == nil {
		return DefaultAPITimeoutMs
	}
	return *ms
}

// wireTimeout applies the HTTP-family default to a decoded timeout.
func wireTimeout(ms *int) *int {
	if ms == nil {
		return defaultAPITimeout()
	}
	return ms
}

func defaultAPITimeout() *int {
	ms := DefaultAPITimeoutMs
	return &ms
}

func foreignFields(kind ResourceKind, fields map[string]json.RawMessage) []string {
	legal := make(map[string]bool, len(payloadFields[kind]))
	for _, f := range payloadFields[kind] {
		legal[f] = true
	}
	var foreign []string
	for f := range fields {
		if !legal[f] {
			foreign = append(foreign, f)
		}
	}
	sort.Strings(foreign)
	return foreign
}

// PayloadFields returns the wire keys that are legal for the given family.
func PayloadFields(kind ResourceKind) []string {
	return append([]string(nil), payloadFields[kind]...)
}
