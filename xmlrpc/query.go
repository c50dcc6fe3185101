package xmlrpc

import (
	"errors"
	"fmt"
	"strconv"
)

// Query extracts typed values from a decoded XML-RPC Value tree. All
// queries derived from the same root share one error slot. After the
// first failure every further accessor returns a zero value, so a chain
// of extractions needs only a single Err check at the end.
type Query struct {
	val *Value
	err *error

	// lazily built views, reused on repeated access
	members map[string]*Query
	elems   []*Query
}

// Q wraps a Value for extraction.
func Q(v *Value) *Query {
	var err error
	return &Query{val: v, err: &err}
}

// Err returns the first error of the query chain.
func (q *Query) Err() error {
	return *q.err
}

// SetErr replaces the error state. Resetting to nil allows a retry with
// another type.
func (q *Query) SetErr(err error) {
	*q.err = err
}

// Value returns the wrapped Value.
func (q *Query) Value() *Value {
	return q.val
}

func (q *Query) broken() bool {
	return *q.err != nil || q.val == nil
}

func (q *Query) derive(v *Value) *Query {
	return &Query{val: v, err: q.err}
}

// Int gets an int or i4 value.
func (q *Query) Int() int {
	if q.broken() {
		return 0
	}
	s := q.val.I4
	if s == "" {
		s = q.val.Int
	}
	if s == "" {
		*q.err = errors.New("Not an int")
		return 0
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		*q.err = fmt.Errorf("Invalid int: %s", s)
		return 0
	}
	return i
}

// Bool gets a boolean value.
func (q *Query) Bool() bool {
	if q.broken() {
		return false
	}
	switch q.val.Boolean {
	case "1":
		return true
	case "0":
		return false
	}
	*q.err = errors.New("Not a bool or invalid")
	return false
}

// Float64 gets a double value.
func (q *Query) Float64() float64 {
	if q.broken() {
		return 0
	}
	if q.val.Double == "" {
		*q.err = errors.New("Not a double")
		return 0
	}
	d, err := strconv.ParseFloat(q.val.Double, 64)
	if err != nil {
		*q.err = fmt.Errorf("Invalid double: %s", q.val.Double)
		return 0
	}
	return d
}

// String gets a string value. Both the <string> element and flat
// character data are accepted, the CCU sends either.
func (q *Query) String() string {
	if q.broken() {
		return ""
	}
	if q.val.String != "" {
		return q.val.String
	}
	if q.typed() {
		*q.err = errors.New("Not a string")
		return ""
	}
	return q.val.FlatString
}

// typed reports whether any non-string type element is set.
func (q *Query) typed() bool {
	v := q.val
	return v.Boolean != "" || v.I4 != "" || v.Int != "" || v.Double != "" ||
		v.Base64 != "" || v.DateTime != "" || v.Array != nil || v.Struct != nil
}

func (q *Query) zero() bool {
	return !q.typed() && q.val.String == "" && q.val.FlatString == ""
}

// IsEmpty returns true, if no error happened before and the value is
// empty. An empty value can also be read as an empty string.
func (q *Query) IsEmpty() bool {
	if *q.err != nil {
		return false
	}
	return q.val == nil || q.zero()
}

// IsNotEmpty returns true, if no error happened before and the value is
// not empty.
func (q *Query) IsNotEmpty() bool {
	if q.broken() {
		return false
	}
	return !q.zero()
}

// Any maps the value to int, bool, float64 or string. An empty optional
// yields nil.
func (q *Query) Any() interface{} {
	if q.broken() {
		return nil
	}
	switch {
	case q.val.I4 != "" || q.val.Int != "":
		return q.Int()
	case q.val.Boolean != "":
		return q.Bool()
	case q.val.Double != "":
		return q.Float64()
	}
	return q.String()
}

// Map returns the members of a struct value.
func (q *Query) Map() map[string]*Query {
	if q.broken() {
		return nil
	}
	if q.members != nil {
		return q.members
	}
	if q.val.Struct == nil {
		*q.err = errors.New("Not a struct")
		return nil
	}
	q.members = make(map[string]*Query, len(q.val.Struct.Members))
	for _, m := range q.val.Struct.Members {
		q.members[m.Name] = q.derive(m.Value)
	}
	return q.members
}

// Key returns the named struct member and fails when it is missing.
func (q *Query) Key(name string) *Query {
	return q.member(name, true)
}

// TryKey returns the named struct member, a missing member is not an
// error.
func (q *Query) TryKey(name string) *Query {
	return q.member(name, false)
}

func (q *Query) member(name string, must bool) *Query {
	m := q.Map()
	if *q.err != nil {
		return q.derive(nil)
	}
	e, ok := m[name]
	if !ok {
		if must {
			*q.err = fmt.Errorf("Field not found: %s", name)
		}
		return q.derive(nil)
	}
	return e
}

// Slice returns the elements of an array value.
func (q *Query) Slice() []*Query {
	if q.broken() {
		return nil
	}
	if q.elems != nil {
		return q.elems
	}
	if q.val.Array == nil {
		*q.err = errors.New("Not an array")
		return nil
	}
	q.elems = make([]*Query, len(q.val.Array.Data))
	for i, v := range q.val.Array.Data {
		q.elems[i] = q.derive(v)
	}
	return q.elems
}

// Idx returns the array element at index i.
func (q *Query) Idx(i int) *Query {
	s := q.Slice()
	if *q.err != nil {
		return q.derive(nil)
	}
	if i < 0 || i >= len(s) {
		*q.err = fmt.Errorf("Index out of bounds (array length: %d): %d", len(s), i)
		return q.derive(nil)
	}
	return s[i]
}

// Strings returns an array of strings.
func (q *Query) Strings() []string {
	if q.broken() {
		return nil
	}
	var r []string
	for _, e := range q.Slice() {
		r = append(r, e.String())
	}
	if *q.err != nil {
		return nil
	}
	return r
}
