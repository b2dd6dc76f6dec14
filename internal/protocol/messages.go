package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type              string   `json:"type"`
	ProtocolVersion   string   `json:"protocol_version"`
	SupportedVersions []string `json:"supported_versions,omitempty"`
	OperatorName      string   `json:"operator_name"`
	// ReadOnly operators only receive STATE.
	ReadOnly bool `json:"read_only,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	OperatorID      string    `json:"operator_id"`
	SessionToken    string    `json:"session_token,omitempty"`
	SceneID         string    `json:"scene_id"`
	FrameRateHz     int       `json:"frame_rate_hz"`
	Policy          PolicyV1  `json:"policy"`
	State           *StatusV1 `json:"state,omitempty"`
}

type PolicyV1 struct {
	Shape             string  `json:"shape,omitempty"`
	Radius            float32 `json:"radius"`
	Cadence           string  `json:"cadence,omitempty"`
	MinDelay          float32 `json:"min_delay,omitempty"`
	Delay             float32 `json:"delay,omitempty"`
	RandomizeRotation bool    `json:"randomize_rotation"`
	RandomizeOrder    bool    `json:"randomize_order"`
	KeepParent        bool    `json:"keep_parent"`
	DropHeight        float32 `json:"drop_height,omitempty"`
}

// POINTER (client -> server)
type PointerMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version,omitempty"`
	Seq             uint64     `json:"seq,omitempty"`
	Phase           string     `json:"phase"`
	Origin          [3]float32 `json:"origin"`
	Dir             [3]float32 `json:"dir"`
	Button          int        `json:"button"`
	Mods            []string   `json:"mods,omitempty"`
	InsideWidget    bool       `json:"inside_widget,omitempty"`
}

// SELECT (client -> server). Entities and Names are merged; unknown names are rejected.
type SelectMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version,omitempty"`
	Seq             uint64   `json:"seq,omitempty"`
	Entities        []uint64 `json:"entities,omitempty"`
	Names           []string `json:"names,omitempty"`
}

// POLICY (client -> server)
type PolicyMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version,omitempty"`
	Seq             uint64   `json:"seq,omitempty"`
	Policy          PolicyV1 `json:"policy"`
}

// UNDO (client -> server)
type UndoMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	Seq             uint64 `json:"seq,omitempty"`
}

// TOOL (client -> server) enables or disables the scatter tool.
type ToolMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	Seq             uint64 `json:"seq,omitempty"`
	Enabled         bool   `json:"enabled"`
}

// STATE (server -> client), once per frame.
type StateMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Frame           uint64       `json:"frame"`
	SimTime         float64      `json:"sim_time"`
	OperatorID      string       `json:"operator_id,omitempty"`
	Status          StatusV1     `json:"status"`
	Instances       []InstanceV1 `json:"instances,omitempty"`
}

type StatusV1 struct {
	State      string      `json:"state"`
	Enabled    bool        `json:"enabled"`
	Running    bool        `json:"running"`
	RunID      string      `json:"run_id,omitempty"`
	PoolSize   int         `json:"pool_size"`
	LastReason string      `json:"last_reason,omitempty"`
	Next       uint64      `json:"next,omitempty"`
	NextName   string      `json:"next_name,omitempty"`
	Instances  int         `json:"instances"`
	Target     *[3]float32 `json:"target,omitempty"`
}

type InstanceV1 struct {
	Entity   uint64     `json:"entity"`
	Template uint64     `json:"template"`
	Pos      [3]float32 `json:"pos"`
	Settled  bool       `json:"settled"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Seq             uint64 `json:"seq,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message"`
	RefType         string `json:"ref_type,omitempty"`
}

func NewError(seq uint64, refType, code, message string) ErrorMsg {
	return ErrorMsg{
		Type:            TypeError,
		ProtocolVersion: Version,
		Seq:             seq,
		Code:            code,
		Message:         message,
		RefType:         refType,
	}
}
