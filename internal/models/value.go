// Package models contains domain types for the document extraction review backend.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a closed, schema-agnostic representation of one extracted value.
// The zero Value is null.
type Value struct {
	kind  Kind
	str   string
	num   float64
	b     bool
	items []Value
	obj   *Record
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a float64.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Array wraps a list of values.
func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindArray, items: items}
}

// Object wraps a record. A nil record becomes an empty object.
func Object(r *Record) Value {
	if r == nil {
		r = NewRecord()
	}
	return Value{kind: KindObject, obj: r}
}

func (v Value) Kind() Kind           { return v.kind }
func (v Value) IsNull() bool         { return v.kind == KindNull }
func (v Value) IsNested() bool       { return v.kind == KindArray || v.kind == KindObject }
func (v Value) Items() []Value       { return v.items }
func (v Value) Record() *Record      { return v.obj }
func (v Value) BoolValue() bool      { return v.b }
func (v Value) NumberValue() float64 { return v.num }
func (v Value) StringValue() string  { return v.str }

// Display renders the value the way a table cell shows it.
func (v Value) Display() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindString:
		return v.str
	default:
		data, err := v.MarshalJSON()
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// Equal reports deep equality, including object key order.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.num == o.num
	case KindString:
		return v.str == o.str
	case KindArray:
		if len(v.items) != len(o.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	case KindObject:
		return v.obj.Equal(o.obj)
	}
	return false
}

// Interface converts the value to plain Go types (map keys lose their order).
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.num
	case KindString:
		return v.str
	case KindArray:
		out := make([]any, len(v.items))
		for i, item := range v.items {
			out[i] = item.Interface()
		}
		return out
	case KindObject:
		out := make(map[string]any, v.obj.Len())
		for _, k := range v.obj.Keys() {
			val, _ := v.obj.Get(k)
			out[k] = val.Interface()
		}
		return out
	}
	return nil
}

// FromInterface converts plain Go values into a Value. Map keys are sorted so
// the result is deterministic.
func FromInterface(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case *Record:
		return Object(t)
	case bool:
		return Bool(t)
	case string:
		return String(t)
	case float64:
		return Number(t)
	case float32:
		return Number(float64(t))
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return String(t.String())
		}
		return Number(f)
	case []string:
		items := make([]Value, len(t))
		for i, s := range t {
			items[i] = String(s)
		}
		return Array(items...)
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromInterface(item)
		}
		return Array(items...)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		rec := NewRecord()
		for _, k := range keys {
			rec.Set(k, FromInterface(t[k]))
		}
		return Object(rec)
	default:
		return String(fmt.Sprint(t))
	}
}

// MarshalJSON encodes the value, keeping object key order.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) writeJSON(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		data, err := json.Marshal(v.num)
		if err != nil {
			return err
		}
		buf.Write(data)
	case KindString:
		data, err := json.Marshal(v.str)
		if err != nil {
			return err
		}
		buf.Write(data)
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		return v.obj.writeJSON(buf)
	}
	return nil
}

// UnmarshalJSON decodes any JSON document, preserving object key order.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	val, err := decodeJSONValue(dec)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

func decodeJSONValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			rec := NewRecord()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("unexpected object key %v", keyTok)
				}
				val, err := decodeJSONValue(dec)
				if err != nil {
					return Value{}, err
				}
				rec.Set(key, val)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Object(rec), nil
		case '[':
			items := []Value{}
			for dec.More() {
				item, err := decodeJSONValue(dec)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Array(items...), nil
		}
		return Value{}, fmt.Errorf("unexpected delimiter %q", t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", t, err)
		}
		return Number(f), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case nil:
		return Null(), nil
	}
	return Value{}, fmt.Errorf("unexpected token %v", tok)
}

// Values travel through msgpack as [kind, payload] so object key order survives.

// EncodeMsgpack implements msgpack.CustomEncoder.
func (v Value) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}
	if err := enc.EncodeInt(int64(v.kind)); err != nil {
		return err
	}
	switch v.kind {
	case KindBool:
		return enc.EncodeBool(v.b)
	case KindNumber:
		return enc.EncodeFloat64(v.num)
	case KindString:
		return enc.EncodeString(v.str)
	case KindArray:
		if err := enc.EncodeArrayLen(len(v.items)); err != nil {
			return err
		}
		for _, item := range v.items {
			if err := item.EncodeMsgpack(enc); err != nil {
				return err
			}
		}
		return nil
	case KindObject:
		keys := v.obj.Keys()
		if err := enc.EncodeArrayLen(2 * len(keys)); err != nil {
			return err
		}
		for _, k := range keys {
			val, _ := v.obj.Get(k)
			if err := enc.EncodeString(k); err != nil {
				return err
			}
			if err := val.EncodeMsgpack(enc); err != nil {
				return err
			}
		}
		return nil
	default:
		return enc.EncodeNil()
	}
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (v *Value) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n != 2 {
		return fmt.Errorf("value envelope has %d elements, want 2", n)
	}
	kind, err := dec.DecodeInt()
	if err != nil {
		return err
	}
	switch Kind(kind) {
	case KindNull:
		*v = Null()
		return dec.DecodeNil()
	case KindBool:
		b, err := dec.DecodeBool()
		if err != nil {
			return err
		}
		*v = Bool(b)
	case KindNumber:
		f, err := dec.DecodeFloat64()
		if err != nil {
			return err
		}
		*v = Number(f)
	case KindString:
		s, err := dec.DecodeString()
		if err != nil {
			return err
		}
		*v = String(s)
	case KindArray:
		count, err := dec.DecodeArrayLen()
		if err != nil {
			return err
		}
		items := make([]Value, 0, max(count, 0))
		for i := 0; i < count; i++ {
			var item Value
			if err := item.DecodeMsgpack(dec); err != nil {
				return err
			}
			items = append(items, item)
		}
		*v = Array(items...)
	case KindObject:
		count, err := dec.DecodeArrayLen()
		if err != nil {
			return err
		}
		rec := NewRecord()
		for i := 0; i < count/2; i++ {
			key, err := dec.DecodeString()
			if err != nil {
				return err
			}
			var item Value
			if err := item.DecodeMsgpack(dec); err != nil {
				return err
			}
			rec.Set(key, item)
		}
		*v = Object(rec)
	default:
		return fmt.Errorf("unknown value kind %d", kind)
	}
	return nil
}

// Record is an insertion-ordered mapping of field name to Value.
type Record struct {
	keys   []string
	values map[string]Value
}

// NewRecord creates an empty record.
func NewRecord() *Record {
	return &Record{values: make(map[string]Value)}
}

// RecordOf builds a record from alternating key/value pairs.
func RecordOf(pairs ...any) *Record {
	rec := NewRecord()
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			continue
		}
		rec.Set(key, FromInterface(pairs[i+1]))
	}
	return rec
}

// Set stores a field. Existing keys keep their position.
func (r *Record) Set(key string, v Value) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
}

// Get returns a field value.
func (r *Record) Get(key string) (Value, bool) {
	if r == nil {
		return Value{}, false
	}
	v, ok := r.values[key]
	return v, ok
}

// Keys returns field names in insertion order.
func (r *Record) Keys() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of fields.
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// Clone returns a shallow copy; nested values are shared and treated as immutable.
func (r *Record) Clone() *Record {
	out := NewRecord()
	if r == nil {
		return out
	}
	for _, k := range r.keys {
		out.Set(k, r.values[k])
	}
	return out
}

// Equal reports deep equality including key order.
func (r *Record) Equal(o *Record) bool {
	if r.Len() != o.Len() {
		return false
	}
	for i, k := range r.Keys() {
		if o.keys[i] != k {
			return false
		}
		if !r.values[k].Equal(o.values[k]) {
			return false
		}
	}
	return true
}

func (r *Record) writeJSON(buf *bytes.Buffer) error {
	buf.WriteByte('{')
	for i, k := range r.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if err := r.values[k].writeJSON(buf); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// MarshalJSON encodes the record as a JSON object in key order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := r.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object.
func (r *Record) UnmarshalJSON(data []byte) error {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return err
	}
	if v.Kind() != KindObject {
		return fmt.Errorf("expected JSON object, got %s", v.Kind())
	}
	*r = *v.obj
	return nil
}
