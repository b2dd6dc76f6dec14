package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"scatterdrop.dev/internal/protocol"
	"scatterdrop.dev/internal/sandbox"
)

// Engine is the part of the sandbox the transport talks to.
type Engine interface {
	Join() chan<- sandbox.JoinRequest
	Leave() chan<- string
	Inbox() chan<- sandbox.Envelope
}

type Server struct {
	engine Engine
	log    *log.Logger

	upgrader    websocket.Upgrader
	queueLen    int
	joinTimeout time.Duration
}

func NewServer(e Engine, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		engine: e,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		queueLen:    16,
		joinTimeout: 5 * time.Second,
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		operatorID, out := s.handshake(conn)
		if operatorID == "" {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			cmd, base, err := decodeCommand(msg)
			if err != nil {
				s.replyError(out, base, protocol.ErrProtoBadRequest, err.Error())
				continue
			}
			if base.ProtocolVersion != "" && base.ProtocolVersion != protocol.Version {
				s.replyError(out, base, protocol.ErrProtoVersion, "bad protocol_version")
				continue
			}
			select {
			case s.engine.Inbox() <- sandbox.Envelope{OperatorID: operatorID, Msg: cmd}:
			default:
				s.replyError(out, base, protocol.ErrBusy, "inbox full")
			}
		}

		// Cleanup.
		s.engine.Leave() <- operatorID
	}
}

// decodeCommand validates msg and decodes it into its command type.
func decodeCommand(msg []byte) (any, protocol.BaseMessage, error) {
	base, err := protocol.Validate(msg)
	if err != nil {
		return nil, base, err
	}
	var cmd any
	switch base.Type {
	case protocol.TypePointer:
		cmd = &protocol.PointerMsg{}
	case protocol.TypeSelect:
		cmd = &protocol.SelectMsg{}
	case protocol.TypePolicy:
		cmd = &protocol.PolicyMsg{}
	case protocol.TypeUndo:
		cmd = &protocol.UndoMsg{}
	case protocol.TypeTool:
		cmd = &protocol.ToolMsg{}
	default:
		return nil, base, errNotCommand(base.Type)
	}
	if err := json.Unmarshal(msg, cmd); err != nil {
		return nil, base, err
	}
	return cmd, base, nil
}

type errNotCommand string

func (e errNotCommand) Error() string { return "not a client command: " + string(e) }

func (s *Server) replyError(out chan []byte, base protocol.BaseMessage, code, message string) {
	b, err := json.Marshal(protocol.NewError(base.Seq, base.Type, code, message))
	if err != nil {
		return
	}
	select {
	case out <- b:
	default:
	}
}

func (s *Server) handshake(conn *websocket.Conn) (operatorID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.Validate(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if !supportsVersion(hello) {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", nil
	}

	out = make(chan []byte, s.queueLen)
	respCh := make(chan sandbox.JoinResponse, 1)
	s.engine.Join() <- sandbox.JoinRequest{
		Name:     hello.OperatorName,
		ReadOnly: hello.ReadOnly,
		Out:      out,
		Resp:     respCh,
	}
	var resp sandbox.JoinResponse
	select {
	case resp = <-respCh:
	case <-time.After(s.joinTimeout):
		s.log.Printf("join timed out for %q", hello.OperatorName)
		go s.leaveLateJoin(respCh)
		return "", nil
	}

	if err := writeJSON(conn, resp.Welcome); err != nil {
		s.engine.Leave() <- resp.Welcome.OperatorID
		return "", nil
	}
	return resp.Welcome.OperatorID, out
}

// leaveLateJoin removes an operator whose join completed after the handshake gave up.
func (s *Server) leaveLateJoin(respCh <-chan sandbox.JoinResponse) {
	resp := <-respCh
	if resp.Welcome.OperatorID != "" {
		s.engine.Leave() <- resp.Welcome.OperatorID
	}
}

func supportsVersion(h protocol.HelloMsg) bool {
	if h.ProtocolVersion == protocol.Version {
		return true
	}
	for _, v := range h.SupportedVersions {
		if v == protocol.Version {
			return true
		}
	}
	return false
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
