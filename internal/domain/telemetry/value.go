// Package telemetry models the game-state envelopes pushed by the game client.
//
// Sections of an envelope are arbitrary JSON trees. They are decoded into
// Value, a closed recursive type (Null, Scalar, Object, List) so that code
// walking them never has to type-switch over any.
package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind discriminates the variants of Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindScalar
	KindObject
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindObject:
		return "object"
	case KindList:
		return "list"
	default:
		return "null"
	}
}

// Value is one node of a telemetry tree. The zero Value is Null.
//
// Scalars keep their JSON text form: strings unquoted, numbers as written,
// booleans as "true"/"false". Object keys keep their wire order.
type Value struct {
	kind   Kind
	scalar string
	quoted bool
	keys   []string
	fields map[string]Value
	items  []Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// String returns a string scalar.
func String(s string) Value { return Value{kind: KindScalar, scalar: s, quoted: true} }

// Number returns a numeric scalar.
func Number(n float64) Value {
	return Value{kind: KindScalar, scalar: strconv.FormatFloat(n, 'f', -1, 64)}
}

// Bool returns a boolean scalar.
func Bool(b bool) Value { return Value{kind: KindScalar, scalar: strconv.FormatBool(b)} }

// Object builds an object from alternating key/value pairs.
func Object(pairs ...Field) Value {
	v := Value{kind: KindObject, fields: make(map[string]Value, len(pairs))}
	for _, p := range pairs {
		v.Set(p.Key, p.Value)
	}
	return v
}

// List builds a list value.
func List(items ...Value) Value { return Value{kind: KindList, items: items} }

// Field is one key/value pair of an object.
type Field struct {
	Key   string
	Value Value
}

// F is shorthand for Field{key, v}.
func F(key string, v Value) Field { return Field{Key: key, Value: v} }

// Kind reports the variant.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null or absent.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsObject reports whether the value is an object.
func (v Value) IsObject() bool { return v.kind == KindObject }

// IsScalar reports whether the value is a scalar.
func (v Value) IsScalar() bool { return v.kind == KindScalar }

// Keys returns the object keys in wire order.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	return v.keys
}

// Get returns the non-null child at key.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	child, ok := v.fields[key]
	if !ok || child.kind == KindNull {
		return Value{}, false
	}
	return child, true
}

// Path walks nested objects; missing segments yield Null.
func (v Value) Path(keys ...string) Value {
	cur := v
	for _, k := range keys {
		next, ok := cur.Get(k)
		if !ok {
			return Value{}
		}
		cur = next
	}
	return cur
}

// Set assigns key on an object value, appending it to the key order when new.
func (v *Value) Set(key string, child Value) {
	if v.kind != KindObject {
		*v = Value{kind: KindObject}
	}
	if v.fields == nil {
		v.fields = make(map[string]Value)
	}
	if _, exists := v.fields[key]; !exists {
		v.keys = append(v.keys, key)
	}
	v.fields[key] = child
}

// Items returns the elements of a list.
func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	return v.items
}

// Text returns the scalar text, or "" for non-scalars.
func (v Value) Text() string {
	if v.kind != KindScalar {
		return ""
	}
	return v.scalar
}

// Int parses the scalar as an integer, truncating decimals.
func (v Value) Int() (int, bool) {
	if v.kind != KindScalar {
		return 0, false
	}
	if n, err := strconv.Atoi(v.scalar); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(v.scalar, 64)
	if err != nil {
		return 0, false
	}
	return int(f), true
}

// Boolean parses the scalar as a bool.
func (v Value) Boolean() (bool, bool) {
	if v.kind != KindScalar {
		return false, false
	}
	b, err := strconv.ParseBool(v.scalar)
	return b, err == nil
}

// Equal reports structural equality. Object key order is ignored.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindScalar:
		return v.scalar == o.scalar && v.quoted == o.quoted
	case KindObject:
		if len(v.fields) != len(o.fields) {
			return false
		}
		for k, child := range v.fields {
			other, ok := o.fields[k]
			if !ok || !child.Equal(other) {
				return false
			}
		}
		return true
	case KindList:
		if len(v.items) != len(o.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// UnmarshalJSON decodes any JSON document, preserving object key order.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	out, err := decodeValue(dec)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := Value{kind: KindObject, fields: make(map[string]Value)}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("telemetry: object key %v is not a string", keyTok)
				}
				child, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				obj.Set(key, child)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return obj, nil
		case '[':
			list := Value{kind: KindList}
			for dec.More() {
				child, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				list.items = append(list.items, child)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return list, nil
		}
		return Value{}, fmt.Errorf("telemetry: unexpected delimiter %v", t)
	case string:
		return String(t), nil
	case json.Number:
		return Value{kind: KindScalar, scalar: t.String()}, nil
	case bool:
		return Bool(t), nil
	case nil:
		return Value{}, nil
	}
	return Value{}, fmt.Errorf("telemetry: unexpected token %v", tok)
}

// MarshalJSON encodes the value back to JSON in key order.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindScalar:
		if v.quoted {
			b, err := json.Marshal(v.scalar)
			if err != nil {
				return err
			}
			buf.Write(b)
			return nil
		}
		buf.WriteString(v.scalar)
	case KindObject:
		buf.WriteByte('{')
		for i, k := range v.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(b)
			buf.WriteByte(':')
			if err := v.fields[k].encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		buf.WriteString("null")
	}
	return nil
}
