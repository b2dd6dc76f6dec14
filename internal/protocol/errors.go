package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"
	ErrProtoHandshake  = "E_PROTO_HANDSHAKE"

	// Sandbox routing/state.
	ErrBusy        = "E_BUSY"
	ErrReadOnly    = "E_READ_ONLY"
	ErrPointerBusy = "E_POINTER_BUSY"

	// Tool layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrToolDisabled  = "E_TOOL_DISABLED"
	ErrUnknownEntity = "E_UNKNOWN_ENTITY"
	ErrNoTemplate    = "E_NO_TEMPLATE"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrProtoHandshake:  {},
	ErrBusy:            {},
	ErrReadOnly:        {},
	ErrPointerBusy:     {},
	ErrBadRequest:      {},
	ErrToolDisabled:    {},
	ErrUnknownEntity:   {},
	ErrNoTemplate:      {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
