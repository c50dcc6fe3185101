package xmlrpc

import (
	"encoding/xml"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func marshalToString(t *testing.T, in interface{}) string {
	t.Helper()
	buf, err := xml.Marshal(in)
	if err != nil {
		t.Fatalf("marshalling failed: %v", err)
	}
	return string(buf)
}

func TestMarshalValue(t *testing.T) {
	cases := []struct {
		in   Value
		want string
	}{
		{Value{I4: "42"}, "<value><i4>42</i4></value>"},
		{Value{Int: "0"}, "<value><int>0</int></value>"},
		{Value{Boolean: "1"}, "<value><boolean>1</boolean></value>"},
		{Value{String: "HmIP-RF"}, "<value><string>HmIP-RF</string></value>"},
		{Value{FlatString: "HmIP-RF"}, "<value>HmIP-RF</value>"},
		{Value{Double: "21.5"}, "<value><double>21.5</double></value>"},
		{
			*structValue(
				&Member{Name: "ADDRESS", Value: &Value{FlatString: "ABC0000001"}},
				&Member{Name: "VERSION", Value: &Value{I4: "10"}},
			),
			"<value><struct>" +
				"<member><name>ADDRESS</name><value>ABC0000001</value></member>" +
				"<member><name>VERSION</name><value><i4>10</i4></value></member>" +
				"</struct></value>",
		},
		{
			Value{Array: &Array{Data: []*Value{{FlatString: "a"}, {I4: "4"}}}},
			"<value><array><data><value>a</value><value><i4>4</i4></value></data></array></value>",
		},
	}
	for _, c := range cases {
		if got := marshalToString(t, c.in); got != c.want {
			t.Errorf("unexpected xml: %s, want %s", got, c.want)
		}
	}
}

func TestMarshalMethodCall(t *testing.T) {
	call := MethodCall{
		MethodName: "setValue",
		Params: &Params{Param: []*Param{
			{NewString("ABC0000001:3")},
			{NewString("STATE")},
			{NewBool(true)},
		}},
	}
	got := marshalToString(t, call)
	want := "<methodCall><methodName>setValue</methodName><params>" +
		"<param><value>ABC0000001:3</value></param>" +
		"<param><value>STATE</value></param>" +
		"<param><value><boolean>1</boolean></value></param>" +
		"</params></methodCall>"
	if got != want {
		t.Errorf("unexpected xml: %s", got)
	}

	// an empty parameter list still renders the params element
	got = marshalToString(t, MethodCall{MethodName: "listDevices", Params: &Params{}})
	if got != "<methodCall><methodName>listDevices</methodName><params></params></methodCall>" {
		t.Errorf("unexpected xml: %s", got)
	}
}

func TestMarshalFaultResponse(t *testing.T) {
	// faults are rendered the way the CCU sends them: i4 code, flat string
	mr := newFaultResponse(&MethodError{Code: -1, Message: ": unknown method name"})
	got := marshalToString(t, mr)
	if !strings.Contains(got, "<member><name>faultCode</name><value><i4>-1</i4></value></member>") ||
		!strings.Contains(got, "<member><name>faultString</name><value>: unknown method name</value></member>") {
		t.Errorf("unexpected fault xml: %s", got)
	}

	// plain errors get the generic fault code -1
	got = marshalToString(t, newFaultResponse(errors.New("boom")))
	if !strings.Contains(got, "<i4>-1</i4>") || !strings.Contains(got, "boom") {
		t.Errorf("unexpected fault xml: %s", got)
	}
}

func TestNewValue(t *testing.T) {
	cases := []struct {
		in   interface{}
		want *Value
	}{
		{42, &Value{I4: "42"}},
		{true, &Value{Boolean: "1"}},
		{false, &Value{Boolean: "0"}},
		{21.5, &Value{Double: "21.5"}},
		{"up", &Value{FlatString: "up"}},
		{[]string{"up"}, &Value{Array: &Array{Data: []*Value{{FlatString: "up"}}}}},
		{[]interface{}{21.5}, &Value{Array: &Array{Data: []*Value{{Double: "21.5"}}}}},
		{
			map[string]interface{}{"LEVEL": 0.5},
			&Value{Struct: &Struct{Members: []*Member{{Name: "LEVEL", Value: &Value{Double: "0.5"}}}}},
		},
	}
	for _, c := range cases {
		v, err := NewValue(c.in)
		if err != nil {
			t.Errorf("%v: unexpected error: %v", c.in, err)
			continue
		}
		if !reflect.DeepEqual(v, c.want) {
			t.Errorf("%v: unexpected value: %v", c.in, v)
		}
	}
	if _, err := NewValue(struct{}{}); err == nil {
		t.Error("unsupported type must fail")
	}
}

func TestMethodError(t *testing.T) {
	err := &MethodError{Code: -1, Message: "unknownMethod: unknown method name"}
	want := "RPC fault (code: -1, message: unknownMethod: unknown method name)"
	if err.Error() != want {
		t.Errorf("unexpected error text: %s", err.Error())
	}
}
