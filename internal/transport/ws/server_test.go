package ws

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorilla/websocket"

	"scatterdrop.dev/internal/protocol"
	"scatterdrop.dev/internal/sandbox"
	"scatterdrop.dev/internal/scatter/tool"
	"scatterdrop.dev/internal/scene/memscene"
)

func startServer(t *testing.T) string {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	s := memscene.New(quiet)
	s.Create(memscene.Spec{Name: "Ground", Colliders: []memscene.ColliderSpec{{Extents: mgl32.Vec3{50, 0.05, 50}}}})
	sb := sandbox.New(sandbox.Config{SceneID: "ws", FrameRateHz: 120}, s, tool.New(s, tool.DefaultConfig(), quiet), quiet)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = sb.Run(ctx) }()

	srv := httptest.NewServer(NewServer(sb, quiet).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// readUntil reads messages until one of type typ arrives.
func readUntil(t *testing.T, c *websocket.Conn, typ string, match func([]byte) bool) []byte {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = c.SetReadDeadline(deadline)
		_, b, err := c.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		base, _ := protocol.DecodeBase(b)
		if base.Type == typ && (match == nil || match(b)) {
			return b
		}
	}
}

func TestHandshakeAndCommands(t *testing.T) {
	c := dial(t, startServer(t))
	if err := c.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, OperatorName: "tester"}); err != nil {
		t.Fatalf("hello: %v", err)
	}
	var welcome protocol.WelcomeMsg
	if err := json.Unmarshal(readUntil(t, c, protocol.TypeWelcome, nil), &welcome); err != nil {
		t.Fatalf("welcome: %v", err)
	}
	if welcome.OperatorID == "" || welcome.SceneID != "ws" || welcome.FrameRateHz != 120 {
		t.Fatalf("welcome: %+v", welcome)
	}

	if err := c.WriteJSON(protocol.ToolMsg{Type: protocol.TypeTool, Enabled: true}); err != nil {
		t.Fatalf("tool: %v", err)
	}
	readUntil(t, c, protocol.TypeState, func(b []byte) bool {
		var st protocol.StateMsg
		return json.Unmarshal(b, &st) == nil && st.Status.Enabled && st.Status.State == "IDLE"
	})

	if err := c.WriteMessage(websocket.TextMessage, []byte(`{"type":"POINTER","phase":"HOVER"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var em protocol.ErrorMsg
	if err := json.Unmarshal(readUntil(t, c, protocol.TypeError, nil), &em); err != nil {
		t.Fatalf("error msg: %v", err)
	}
	if em.Code != protocol.ErrProtoBadRequest || em.RefType != protocol.TypePointer {
		t.Fatalf("unexpected error reply: %+v", em)
	}
}

func TestHandshake_RejectsBadVersion(t *testing.T) {
	c := dial(t, startServer(t))
	if err := c.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: "0.1", OperatorName: "old"}); err != nil {
		t.Fatalf("hello: %v", err)
	}
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := c.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

type slowEngine struct {
	join  chan sandbox.JoinRequest
	leave chan string
	inbox chan sandbox.Envelope
}

func (e *slowEngine) Join() chan<- sandbox.JoinRequest { return e.join }
func (e *slowEngine) Leave() chan<- string             { return e.leave }
func (e *slowEngine) Inbox() chan<- sandbox.Envelope   { return e.inbox }

func TestHandshake_LateJoinIsLeft(t *testing.T) {
	eng := &slowEngine{join: make(chan sandbox.JoinRequest, 1), leave: make(chan string, 1), inbox: make(chan sandbox.Envelope, 1)}
	server := NewServer(eng, log.New(io.Discard, "", 0))
	server.joinTimeout = 20 * time.Millisecond
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	c := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	hello, _ := json.Marshal(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, OperatorName: "late"})
	if err := c.WriteMessage(websocket.TextMessage, hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	var req sandbox.JoinRequest
	select {
	case req = <-eng.join:
	case <-time.After(3 * time.Second):
		t.Fatalf("join request never arrived")
	}
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := c.ReadMessage(); err == nil {
		t.Fatalf("connection should close after the join timeout")
	}

	req.Resp <- sandbox.JoinResponse{Welcome: protocol.WelcomeMsg{Type: protocol.TypeWelcome, OperatorID: "op-late"}}
	select {
	case id := <-eng.leave:
		if id != "op-late" {
			t.Fatalf("left %q", id)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("late operator was never removed")
	}
}
