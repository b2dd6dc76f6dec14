package protocol_test

import (
	"encoding/json"
	"strings"
	"testing"

	"scatterdrop.dev/internal/protocol"
)

func TestValidate_Samples(t *testing.T) {
	samples := []string{
		`{"type":"HELLO","protocol_version":"1.0","operator_name":"op1"}`,
		`{"type":"POINTER","seq":1,"phase":"MOVE","origin":[0,10,0],"dir":[0,-1,0]}`,
		`{"type":"POINTER","phase":"DOWN","button":0,"mods":["SHIFT"],"inside_widget":false}`,
		`{"type":"SELECT","names":["Rock"],"entities":[3,4]}`,
		`{"type":"POLICY","policy":{"shape":"area","radius":2,"cadence":"after_delay","delay":0.5}}`,
		`{"type":"UNDO","seq":9}`,
		`{"type":"TOOL","enabled":true}`,
		`{"type":"ERROR","protocol_version":"1.0","code":"E_BAD_REQUEST","message":"nope"}`,
		`{
		  "type":"STATE",
		  "protocol_version":"1.0",
		  "frame":12,
		  "sim_time":0.4,
		  "status":{"state":"DROPPING","running":true,"pool_size":1,"instances":1,"target":[0,0.05,0]},
		  "instances":[{"entity":7,"template":2,"pos":[0,4.2,0],"settled":false}]
		}`,
		`{
		  "type":"WELCOME",
		  "protocol_version":"1.0",
		  "operator_id":"OP1",
		  "scene_id":"yard",
		  "frame_rate_hz":30,
		  "policy":{"shape":"point","radius":0,"cadence":"after_settle","min_delay":0.2,"delay":1,"drop_height":5}
		}`,
	}
	for _, s := range samples {
		base, err := protocol.Validate([]byte(s))
		if err != nil {
			t.Fatalf("validate %s: %v", s, err)
		}
		if base.Type == "" {
			t.Fatalf("no type decoded from %s", s)
		}
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown type":   `{"type":"OBS"}`,
		"bad phase":      `{"type":"POINTER","phase":"HOVER"}`,
		"short vector":   `{"type":"POINTER","phase":"MOVE","origin":[0,1]}`,
		"bad modifier":   `{"type":"POINTER","phase":"DOWN","mods":["META"]}`,
		"extra field":    `{"type":"UNDO","force":true}`,
		"policy clamp":   `{"type":"POLICY","policy":{"drop_height":0}}`,
		"missing policy": `{"type":"POLICY"}`,
		"zero entity":    `{"type":"SELECT","entities":[0]}`,
		"not json":       `{"type":`,
	}
	for name, s := range cases {
		if _, err := protocol.Validate([]byte(s)); err == nil {
			t.Fatalf("%s: expected rejection of %s", name, s)
		}
	}
}

func TestEncode_StrictOutbound(t *testing.T) {
	msg := protocol.NewError(3, protocol.TypePointer, protocol.ErrBadRequest, "bad ray")
	b, err := protocol.Encode(msg, true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var back protocol.ErrorMsg
	if err := json.Unmarshal(b, &back); err != nil || back.Seq != 3 || back.RefType != protocol.TypePointer {
		t.Fatalf("decoded %+v err=%v", back, err)
	}

	bad := protocol.NewError(0, "", "not-a-code", "x")
	if _, err := protocol.Encode(bad, true); err == nil || !strings.Contains(err.Error(), "ERROR") {
		t.Fatalf("expected schema error for malformed code, got %v", err)
	}
}
