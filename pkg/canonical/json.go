package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MarshalJSON emits v with object members in insertion order.
func (v Value) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	writeValue(&b, v, false)
	return []byte(b.String()), nil
}

// UnmarshalJSON decodes a JSON document into v, keeping object keys in the
// order they appear in the document.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Parse decodes exactly one JSON document.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return Value{}, fmt.Errorf("canonical: parse: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, errors.New("canonical: parse: trailing data after document")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		f, err := strconv.ParseFloat(t.String(), 64)
		if err != nil {
			return Value{}, fmt.Errorf("number %s: %w", t, err)
		}
		return Number(f), nil
	case json.Delim:
		switch t {
		case '[':
			var elems []Value
			for dec.More() {
				e, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				elems = append(elems, e)
			}
			if _, err := dec.Token(); err != nil { // ]
				return Value{}, err
			}
			return Value{kind: KindArray, elems: elems}, nil
		case '{':
			var members []Member
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("object key %v is not a string", keyTok)
				}
				mv, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				members = setMember(members, key, mv)
			}
			if _, err := dec.Token(); err != nil { // }
				return Value{}, err
			}
			if members == nil {
				members = []Member{}
			}
			return Value{kind: KindObject, members: members}, nil
		}
	}
	return Value{}, fmt.Errorf("unexpected token %v", tok)
}
