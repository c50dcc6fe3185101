package jsonrpc

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestSysVarGetAll(t *testing.T) {
	c, stub := newTestClient(t)
	stub.results["SysVar.getAll"] = `[
		{"id":"1234","name":"Presence","type":"2","subType":"2","isInternal":false,
		 "valueName0":"away","valueName1":"home"},
		{"id":"1235","name":"Alarm zone 1","type":"2","subType":"6","isInternal":true,
		 "valueName0":"not triggered","valueName1":"triggered"},
		{"id":"1236","name":"Mode","type":"16","subType":"29","isInternal":false,
		 "valueList":"off;eco;comfort"},
		{"id":"1237","name":"Setpoint","type":"4","subType":"0","isInternal":false,
		 "unit":"°C","minValue":"4.5","maxValue":"30.5"},
		{"id":"1238","name":"Message","type":"20","subType":"11","isInternal":false},
		{"id":"1239","name":"Strange","type":"99","subType":"99","isInternal":false}
	]`

	svs, err := c.SysVarGetAll()
	if err != nil {
		t.Fatal(err)
	}
	// the unsupported type is skipped, the rest is sorted by name
	if len(svs) != 5 {
		t.Fatalf("5 system variables expected: %d", len(svs))
	}
	names := make([]string, 0, len(svs))
	for _, sv := range svs {
		names = append(names, sv.Name)
	}
	want := []string{"Alarm zone 1", "Message", "Mode", "Presence", "Setpoint"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("unexpected order: %v", names)
		}
	}

	byName := make(map[string]*SysVarDef)
	for _, sv := range svs {
		byName[sv.Name] = sv
	}
	if sv := byName["Presence"]; sv.Type != SysVarTypeLogic || !sv.Visible ||
		sv.ValueName0 != "away" || sv.ValueName1 != "home" {
		t.Errorf("invalid LOGIC variable: %+v", sv)
	}
	if sv := byName["Alarm zone 1"]; sv.Type != SysVarTypeAlarm || sv.Visible {
		t.Errorf("invalid ALARM variable: %+v", sv)
	}
	if sv := byName["Mode"]; sv.Type != SysVarTypeList || len(sv.ValueList) != 3 ||
		sv.ValueList[1] != "eco" {
		t.Errorf("invalid LIST variable: %+v", sv)
	}
	if sv := byName["Setpoint"]; sv.Type != SysVarTypeNumber || sv.Minimum != 4.5 ||
		sv.Maximum != 30.5 || sv.Unit != "°C" {
		t.Errorf("invalid NUMBER variable: %+v", sv)
	}
	if sv := byName["Message"]; sv.Type != SysVarTypeString {
		t.Errorf("invalid STRING variable: %+v", sv)
	}
}

func TestProgramGetAll(t *testing.T) {
	c, stub := newTestClient(t)
	stub.results["Program.getAll"] = `[
		{"id":"2001","name":"Night","isActive":true,"isInternal":false,
		 "lastExecuteTime":"2026-08-24 22:15:30"},
		{"id":"2002","name":"Away","isActive":false,"isInternal":true,
		 "lastExecuteTime":""}
	]`

	ps, err := c.ProgramGetAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(ps) != 2 || ps[0].Name != "Away" || ps[1].Name != "Night" {
		t.Fatalf("unexpected programs: %+v", ps)
	}
	night := ps[1]
	want := time.Date(2026, 8, 24, 22, 15, 30, 0, time.Local)
	if !night.Active || !night.Visible || !night.LastExecute.Equal(want) {
		t.Errorf("invalid program: %+v", night)
	}
	away := ps[0]
	if away.Active || away.Visible || !away.LastExecute.IsZero() {
		t.Errorf("invalid program: %+v", away)
	}
}

func TestCheckWriteResult(t *testing.T) {
	cases := []struct {
		res string
		ok  bool
	}{
		{`true`, true},
		// some firmware versions answer with null on success
		{`null`, true},
		{`false`, false},
		{`"garbage"`, false},
	}
	for _, c := range cases {
		err := checkWriteResult("SysVar.setBool", json.RawMessage(c.res))
		if (err == nil) != c.ok {
			t.Errorf("unexpected result for %s: %v", c.res, err)
		}
	}
}

func TestSysVarSetStringQuotes(t *testing.T) {
	c, stub := newTestClient(t)
	stub.results["ReGa.runScript"] = `"{\"ok\":true}"`

	if err := c.SysVarSetString("1238", `say "hi"`); err != nil {
		t.Fatal(err)
	}
	last := stub.requests[len(stub.requests)-1]
	params := last.Params.(map[string]interface{})
	script, _ := params["script"].(string)
	// the value must be escaped for the script string literal
	if !strings.Contains(script, `State("say \"hi\"")`) {
		t.Errorf("value not quoted: %s", script)
	}
}
