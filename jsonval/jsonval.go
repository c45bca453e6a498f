// Package jsonval provides a typed accessor layer over parsed ACME JSON
// objects. ACME resource bodies are heterogeneous JSON objects whose fields
// are read in many different shapes (strings, URLs, instants, nested
// objects); rather than scatter type assertions and interface{} juggling
// across the account/order/challenge packages, every field access goes
// through a Value, which degrades to an explicit error instead of a panic
// when the shape on the wire doesn't match what the caller expected.
package jsonval

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/acme-go/core/jose"
)

// ProtocolError is returned when a JSON value exists but is not of the type
// the caller asked for (e.g. calling AsInt on a JSON string).
type ProtocolError struct {
	Field string
	Want  string
	Got   any
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("jsonval: field %q: want %s, got %T", e.Field, e.Want, e.Got)
}

// IncompleteClaim is returned by Required when a field is absent from the
// parsed JSON object.
type IncompleteClaim struct {
	Field string
}

func (e *IncompleteClaim) Error() string {
	return fmt.Sprintf("jsonval: required field %q is missing", e.Field)
}

// Value wraps a single decoded JSON value (as produced by encoding/json
// unmarshaling into `any`) along with the field name it came from, purely
// for error messages. A Value is returned even for missing object keys so
// that coercion methods have a uniform, panic-free failure path.
type Value struct {
	field   string
	raw     any
	present bool
}

// Object wraps a decoded JSON object (map[string]any) to provide Get.
type Object struct {
	raw map[string]any
}

// ParseObject decodes raw JSON bytes into an Object. It fails with
// ProtocolError if the top-level JSON value is not an object.
func ParseObject(data []byte) (Object, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Object{}, fmt.Errorf("jsonval: invalid JSON: %w", err)
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return Object{}, &ProtocolError{Field: "$", Want: "object", Got: raw}
	}
	return Object{raw: m}, nil
}

// NewObject wraps an already-decoded map, e.g. one produced by an earlier
// json.Unmarshal into map[string]any.
func NewObject(m map[string]any) Object {
	if m == nil {
		m = map[string]any{}
	}
	return Object{raw: m}
}

// Raw returns the underlying map.
func (o Object) Raw() map[string]any { return o.raw }

// MarshalJSON allows an Object to be serialized back out, e.g. when a
// resource snapshot is persisted to disk.
func (o Object) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.raw)
}

// Get returns a Value for the given key. If the key is absent the returned
// Value's presence is false: Required fails, and the coercion methods return
// their zero value with a nil error.
func (o Object) Get(key string) Value {
	if o.raw == nil {
		return Value{field: key}
	}
	v, ok := o.raw[key]
	return Value{field: key, raw: v, present: ok}
}

// Has reports whether the key is present in the object (even if its value is
// JSON null).
func (o Object) Has(key string) bool {
	if o.raw == nil {
		return false
	}
	_, ok := o.raw[key]
	return ok
}

// Present reports whether the value was found on the parent object/array.
func (v Value) Present() bool {
	return v.present && v.raw != nil
}

// Required fails with IncompleteClaim if the value is absent or JSON null.
func (v Value) Required() (Value, error) {
	if !v.Present() {
		return v, &IncompleteClaim{Field: v.field}
	}
	return v, nil
}

// AsString coerces the value to a string.
func (v Value) AsString() (string, error) {
	if !v.Present() {
		return "", nil
	}
	s, ok := v.raw.(string)
	if !ok {
		return "", &ProtocolError{Field: v.field, Want: "string", Got: v.raw}
	}
	return s, nil
}

// AsInt coerces the value to an int. JSON numbers decode to float64; this
// requires the value to be integral.
func (v Value) AsInt() (int, error) {
	if !v.Present() {
		return 0, nil
	}
	f, ok := v.raw.(float64)
	if !ok {
		return 0, &ProtocolError{Field: v.field, Want: "number", Got: v.raw}
	}
	if f != float64(int(f)) {
		return 0, &ProtocolError{Field: v.field, Want: "integer", Got: v.raw}
	}
	return int(f), nil
}

// AsBool coerces the value to a bool.
func (v Value) AsBool() (bool, error) {
	if !v.Present() {
		return false, nil
	}
	b, ok := v.raw.(bool)
	if !ok {
		return false, &ProtocolError{Field: v.field, Want: "bool", Got: v.raw}
	}
	return b, nil
}

// AsURI coerces the value to a URI string without parsing it (ACME treats
// identifiers like "mailto:" contacts as opaque URIs, not http(s) URLs).
func (v Value) AsURI() (string, error) {
	return v.AsString()
}

// AsURL coerces the value to a string and parses it as an absolute URL.
func (v Value) AsURL() (*url.URL, error) {
	s, err := v.AsString()
	if err != nil {
		return nil, err
	}
	if s == "" {
		return nil, nil
	}
	u, err := url.Parse(s)
	if err != nil || !u.IsAbs() {
		return nil, &ProtocolError{Field: v.field, Want: "URL", Got: v.raw}
	}
	return u, nil
}

// AsInstant coerces the value to a time.Time using the ACME timestamp
// grammar (RFC 3339 with arbitrary fractional-second digits).
func (v Value) AsInstant() (time.Time, error) {
	s, err := v.AsString()
	if err != nil {
		return time.Time{}, err
	}
	if s == "" {
		return time.Time{}, nil
	}
	t, err := jose.ParseTimestamp(s)
	if err != nil {
		return time.Time{}, &ProtocolError{Field: v.field, Want: "RFC3339 timestamp", Got: v.raw}
	}
	return t, nil
}

// AsStatus coerces the value to a status string; it is a thin alias over
// AsString kept distinct so call sites read as status accesses.
func (v Value) AsStatus() (string, error) {
	return v.AsString()
}

// AsBinary coerces the value to a base64url-decoded byte slice.
func (v Value) AsBinary() ([]byte, error) {
	s, err := v.AsString()
	if err != nil {
		return nil, err
	}
	if s == "" {
		return nil, nil
	}
	b, err := jose.Base64URLDecode(s)
	if err != nil {
		return nil, &ProtocolError{Field: v.field, Want: "base64url", Got: v.raw}
	}
	return b, nil
}

// AsObject coerces the value to a nested Object.
func (v Value) AsObject() (Object, error) {
	if !v.Present() {
		return Object{}, nil
	}
	m, ok := v.raw.(map[string]any)
	if !ok {
		return Object{}, &ProtocolError{Field: v.field, Want: "object", Got: v.raw}
	}
	return Object{raw: m}, nil
}

// Array wraps a decoded JSON array.
type Array struct {
	field string
	raw   []any
}

// AsArray coerces the value to an Array.
func (v Value) AsArray() (Array, error) {
	if !v.Present() {
		return Array{field: v.field}, nil
	}
	a, ok := v.raw.([]any)
	if !ok {
		return Array{}, &ProtocolError{Field: v.field, Want: "array", Got: v.raw}
	}
	return Array{field: v.field, raw: a}, nil
}

// Size returns the number of elements in the array.
func (a Array) Size() int { return len(a.raw) }

// Get returns the Value at index i. Indexes out of range return an absent
// Value rather than panicking.
func (a Array) Get(i int) Value {
	if i < 0 || i >= len(a.raw) {
		return Value{field: fmt.Sprintf("%s[%d]", a.field, i)}
	}
	return Value{field: fmt.Sprintf("%s[%d]", a.field, i), raw: a.raw[i], present: true}
}

// Values returns a slice holding one Value per element, for iteration. The
// whole slice is built on each call; elements are not produced lazily.
func (a Array) Values() []Value {
	out := make([]Value, len(a.raw))
	for i := range a.raw {
		out[i] = a.Get(i)
	}
	return out
}

// Strings decodes every element of the array as a string. It fails on the
// first non-string element.
func (a Array) Strings() ([]string, error) {
	out := make([]string, 0, len(a.raw))
	for _, v := range a.Values() {
		s, err := v.AsString()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
