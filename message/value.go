package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

var kindNames = [...]string{"null", "bool", "number", "string", "array", "object"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is a schema-less JSON value. The zero Value is null.
//
// Numbers keep their literal text so that large integers and decimals such as
// "0.000055" survive a round trip unchanged. Objects keep key order.
type Value struct {
	kind Kind
	b    bool
	s    string // string payload, or the literal of a number
	arr  []Value
	obj  *Object
}

// KeyError reports a missing key in a Lookup path.
type KeyError struct {
	Key string
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("key not found: %q", e.Key)
}

func Null() Value { return Value{} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func String(s string) Value { return Value{kind: KindString, s: s} }
func Number(n json.Number) Value { return Value{kind: KindNumber, s: string(n)} }
func Int(n int64) Value { return Value{kind: KindNumber, s: strconv.FormatInt(n, 10)} }
func Array(items ...Value) Value { return Value{kind: KindArray, arr: items} }
func ObjectValue(o *Object) Value { return Value{kind: KindObject, obj: o} }

// ValueOf converts any JSON-serializable Go value into a Value.
func ValueOf(x any) (Value, error) {
	if v, ok := x.(Value); ok {
		return v, nil
	}
	raw, err := json.Marshal(x)
	if err != nil {
		return Value{}, err
	}
	var v Value
	if err := v.UnmarshalJSON(raw); err != nil {
		return Value{}, err
	}
	return v, nil
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

func (v Value) AsString() (string, bool) {
	return v.s, v.kind == KindString
}

func (v Value) AsNumber() (json.Number, bool) {
	return json.Number(v.s), v.kind == KindNumber
}

// AsInt returns integral numbers, and strings holding an integer literal,
// as int64.
func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case KindNumber, KindString:
	default:
		return 0, false
	}
	if n, err := strconv.ParseInt(v.s, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(v.s, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, false
	}
	return int64(f), true
}

func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.s, 64)
	return f, err == nil
}

func (v Value) AsArray() ([]Value, bool) {
	return v.arr, v.kind == KindArray
}

func (v Value) AsObject() (*Object, bool) {
	return v.obj, v.kind == KindObject && v.obj != nil
}

// Lookup walks nested objects by key. A missing key, or a step through a
// non-object, yields a *KeyError naming the key that could not be resolved.
func (v Value) Lookup(path ...string) (Value, error) {
	cur := v
	for _, key := range path {
		obj, ok := cur.AsObject()
		if !ok {
			return Value{}, &KeyError{Key: key}
		}
		next, ok := obj.Get(key)
		if !ok {
			return Value{}, &KeyError{Key: key}
		}
		cur = next
	}
	return cur, nil
}

// Interface converts v to plain Go values: nil, bool, json.Number, string,
// []any and map[string]any. Object key order is lost.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return json.Number(v.s)
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.Interface()
		}
		return out
	case KindObject:
		out := make(map[string]any)
		if v.obj != nil {
			v.obj.Range(func(key string, item Value) bool {
				out[key] = item.Interface()
				return true
			})
		}
		return out
	default:
		return nil
	}
}

// Equal reports deep equality. Numbers compare by literal text.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber, KindString:
		return v.s == o.s
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	default:
		return v.obj.Equal(o.obj)
	}
}

// String returns the compact JSON text of v.
func (v Value) String() string {
	raw, err := v.MarshalJSON()
	if err != nil {
		return "<" + err.Error() + ">"
	}
	return string(raw)
}

func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) write(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		if !json.Valid([]byte(v.s)) {
			return fmt.Errorf("message: invalid number literal %q", v.s)
		}
		buf.WriteString(v.s)
	case KindString:
		writeString(buf, v.s)
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.write(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		return v.obj.write(buf)
	default:
		return fmt.Errorf("message: unknown kind %d", v.kind)
	}
	return nil
}

// writeString emits s as a JSON string without escaping HTML characters.
// Non-ASCII text is written as raw UTF-8.
func writeString(buf *bytes.Buffer, s string) {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s) // encoding a string cannot fail
	buf.Truncate(buf.Len() - 1)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	val, err := decodeValue(dec)
	if err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("message: unexpected data after top-level value")
	}
	*v = val
	return nil
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
	case json.Number:
		return Number(t), nil
	case string:
		return String(t), nil
	case json.Delim:
		switch t {
		case '[':
			items := []Value{}
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Array(items...), nil
		case '{':
			obj := NewObject()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, _ := kt.(string)
				item, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				obj.Set(key, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return ObjectValue(obj), nil
		}
	}
	return Value{}, fmt.Errorf("message: unexpected token %v", tok)
}

// Object is a JSON object that preserves key insertion order.
type Object struct {
	m *orderedmap.OrderedMap[string, Value]
}

func NewObject() *Object {
	return &Object{m: orderedmap.New[string, Value]()}
}

// Set stores value under key. Re-setting a key keeps its original position.
func (o *Object) Set(key string, value Value) *Object {
	o.m.Set(key, value)
	return o
}

func (o *Object) Get(key string) (Value, bool) {
	if o == nil {
		return Value{}, false
	}
	return o.m.Get(key)
}

func (o *Object) Has(key string) bool {
	_, ok := o.Get(key)
	return ok
}

func (o *Object) Delete(key string) {
	o.m.Delete(key)
}

func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return o.m.Len()
}

func (o *Object) Keys() []string {
	keys := make([]string, 0, o.Len())
	o.Range(func(key string, _ Value) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

// Range calls fn for each entry in insertion order until fn returns false.
func (o *Object) Range(fn func(key string, value Value) bool) {
	if o == nil {
		return
	}
	for pair := o.m.Oldest(); pair != nil; pair = pair.Next() {
		if !fn(pair.Key, pair.Value) {
			return
		}
	}
}

// Equal compares entries regardless of order.
func (o *Object) Equal(other *Object) bool {
	if o.Len() != other.Len() {
		return false
	}
	equal := true
	o.Range(func(key string, value Value) bool {
		ov, ok := other.Get(key)
		equal = ok && value.Equal(ov)
		return equal
	})
	return equal
}

func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := o.write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (o *Object) UnmarshalJSON(data []byte) error {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return err
	}
	obj, ok := v.AsObject()
	if !ok {
		return fmt.Errorf("message: cannot unmarshal %s into Object", v.Kind())
	}
	*o = *obj
	return nil
}

func (o *Object) write(buf *bytes.Buffer) error {
	buf.WriteByte('{')
	var err error
	i := 0
	o.Range(func(key string, value Value) bool {
		if i > 0 {
			buf.WriteByte(',')
		}
		i++
		writeString(buf, key)
		buf.WriteByte(':')
		err = value.write(buf)
		return err == nil
	})
	if err != nil {
		return err
	}
	buf.WriteByte('}')
	return nil
}
