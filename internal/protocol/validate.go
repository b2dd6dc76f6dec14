package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"scatterdrop.dev/schemas"
)

var schemaFiles = map[string]string{
	TypeHello:   "hello.schema.json",
	TypeWelcome: "welcome.schema.json",
	TypePointer: "pointer.schema.json",
	TypeSelect:  "select.schema.json",
	TypePolicy:  "policy_msg.schema.json",
	TypeUndo:    "undo.schema.json",
	TypeTool:    "tool.schema.json",
	TypeState:   "state.schema.json",
	TypeError:   "error.schema.json",
}

var (
	schemaMu sync.Mutex
	compiled = map[string]*jsonschema.Schema{}
)

func schemaFor(typ string) (*jsonschema.Schema, error) {
	file, ok := schemaFiles[typ]
	if !ok {
		return nil, fmt.Errorf("unknown message type %q", typ)
	}
	schemaMu.Lock()
	defer schemaMu.Unlock()
	if s, ok := compiled[typ]; ok {
		return s, nil
	}
	s, err := schemas.Compile(file)
	if err != nil {
		return nil, err
	}
	compiled[typ] = s
	return s, nil
}

// Validate checks b against the schema of its message type and returns the routing header.
func Validate(b []byte) (BaseMessage, error) {
	base, err := DecodeBase(b)
	if err != nil {
		return base, err
	}
	s, err := schemaFor(base.Type)
	if err != nil {
		return base, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return base, err
	}
	if err := s.Validate(v); err != nil {
		return base, fmt.Errorf("%s: %w", base.Type, err)
	}
	return base, nil
}

// Encode marshals an outbound message, validating it first when strict is set.
func Encode(msg any, strict bool) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if strict {
		if _, err := Validate(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}
