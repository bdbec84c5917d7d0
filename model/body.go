package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
)

// BodyType discriminates the Body variants.
type BodyType string

// Body variants.
const (
	BodyJSON  BodyType = "json"
	BodyText  BodyType = "text"
	BodyBytes BodyType = "bytes"
)

// Body is the request or response body of an HTTP-style invocation. It is
// one of JSONBody, TextBody or BytesBody.
type Body interface {
	BodyType() BodyType
	isBody()
}

// JSONBody carries an arbitrary JSON value.
type JSONBody struct {
	Value any
}

// TextBody carries a plain text value.
type TextBody struct {
	Value string
}

// BytesBody carries binary content, base64 encoded.
type BytesBody struct {
	Base64      string
	ContentType string
}

func (JSONBody) BodyType() BodyType  { return BodyJSON }
func (TextBody) BodyType() BodyType  { return BodyText }
func (BytesBody) BodyType() BodyType { return BodyBytes }

func (JSONBody) isBody()  {}
func (TextBody) isBody()  {}
func (BytesBody) isBody() {}

type valueBodyWire struct {
	Type  BodyType `json:"type"`
	Value any      `json:"value"`
}

type bytesBodyWire struct {
	Type        BodyType `json:"type"`
	Base64      string   `json:"base64"`
	ContentType string   `json:"contentType"`
}

// MarshalJSON implements json.Marshaler.
func (b JSONBody) MarshalJSON() ([]byte, error) {
	return json.Marshal(valueBodyWire{Type: BodyJSON, Value: b.Value})
}

// MarshalJSON implements json.Marshaler.
func (b TextBody) MarshalJSON() ([]byte, error) {
	return json.Marshal(valueBodyWire{Type: BodyText, Value: b.Value})
}

// MarshalJSON implements json.Marshaler.
func (b BytesBody) MarshalJSON() ([]byte, error) {
	return json.Marshal(bytesBodyWire{Type: BodyBytes, Base64: b.Base64, ContentType: b.ContentType})
}

// DecodeBody decodes a tagged body. A missing or null body decodes to nil.
func DecodeBody(data []byte) (Body, error) {
	if isNull(data) {
		return nil, nil
	}

	var head struct {
		Type BodyType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("model: decode body: %w", err)
	}

	switch head.Type {
	case BodyJSON:
		var w struct {
			Value any `json:"value"`
		}
		if err := unmarshalNumbers(data, &w); err != nil {
			return nil, fmt.Errorf("model: decode json body: %w", err)
		}
		return JSONBody{Value: w.Value}, nil
	case BodyText:
		var w struct {
			Value string `json:"value"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("model: decode text body: %w", err)
		}
		return TextBody{Value: w.Value}, nil
	case BodyBytes:
		var w bytesBodyWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("model: decode bytes body: %w", err)
		}
		return BytesBody{Base64: w.Base64, ContentType: w.ContentType}, nil
	default:
		return nil, fmt.Errorf("model: unknown body type %q", head.Type)
	}
}

// QueryValue is a query parameter value: either a single string or a list of
// strings. The distinction survives the wire.
type QueryValue struct {
	values []string
	list   bool
}

// QueryString returns a single-valued query parameter.
func QueryString(v string) QueryValue {
	return QueryValue{values: []string{v}}
}

// QueryList returns a list-valued query parameter.
func QueryList(v ...string) QueryValue {
	return QueryValue{values: append([]string(nil), v...), list: true}
}

// Values returns a copy of the parameter's values.
func (q QueryValue) Values() []string {
	return append([]string(nil), q.values...)
}

// IsList reports whether the parameter was given as a list.
func (q QueryValue) IsList() bool { return q.list }

// MarshalJSON implements json.Marshaler.
func (q QueryValue) MarshalJSON() ([]byte, error) {
	if q.list {
		if q.values == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(q.values)
	}
	v := ""
	if len(q.values) > 0 {
		v = q.values[0]
	}
	return json.Marshal(v)
}

// UnmarshalJSON implements json.Unmarshaler.
func (q *QueryValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var vs []string
		if err := json.Unmarshal(data, &vs); err != nil {
			return fmt.Errorf("model: decode query list: %w", err)
		}
		*q = QueryList(vs...)
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("model: decode query value: %w", err)
	}
	*q = QueryString(v)
	return nil
}

// Query maps query parameter names to values.
type Query map[string]QueryValue

// QueryFromValues converts url.Values, keeping single values as strings and
// repeated keys as lists.
func QueryFromValues(v url.Values) Query {
	if len(v) == 0 {
		return nil
	}
	q := make(Query, len(v))
	for k, vals := range v {
		if len(vals) == 1 {
			q[k] = QueryString(vals[0])
		} else {
			q[k] = QueryList(vals...)
		}
	}
	return q
}

// Encode renders the query in URL form, sorted by key.
func (q Query) Encode() string {
	vals := url.Values{}
	for k, v := range q {
		vals[k] = v.Values()
	}
	return vals.Encode()
}

func isNull(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) == 0 || bytes.Equal(data, []byte("null"))
}
