package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypePointer = "POINTER"
	TypeSelect  = "SELECT"
	TypePolicy  = "POLICY"
	TypeUndo    = "UNDO"
	TypeTool    = "TOOL"
	TypeState   = "STATE"
	TypeError   = "ERROR"
)

// Pointer phases.
const (
	PhaseEnter = "ENTER"
	PhaseMove  = "MOVE"
	PhaseDown  = "DOWN"
	PhaseUp    = "UP"
	PhaseLeave = "LEAVE"
)

// Modifier names carried in PointerMsg.Mods.
const (
	ModShift = "SHIFT"
	ModCtrl  = "CTRL"
	ModAlt   = "ALT"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	Seq             uint64 `json:"seq,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
