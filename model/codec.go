package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// unmarshalNumbers is json.Unmarshal with numbers in untyped values decoded
// as json.Number, so integers beyond 2^53 keep every digit.
func unmarshalNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("invalid character after top-level value")
	}
	return nil
}
