package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"scatterdrop.dev/internal/protocol"
)

func main() {
	var (
		url    = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name   = flag.String("name", "bot", "operator name")
		x      = flag.Float64("x", 0, "stroke start x")
		z      = flag.Float64("z", 0, "stroke start z")
		length = flag.Float64("length", 4, "stroke length along +x")
		steps  = flag.Int("steps", 8, "pointer moves in the stroke")
		pace   = flag.Duration("pace", 100*time.Millisecond, "delay between pointer events")
		undo   = flag.Bool("undo", false, "undo the drop once it settled")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		OperatorName:    *name,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	msgs := make(chan []byte, 64)
	go func() {
		defer close(msgs)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msgs <- msg
		}
	}()

	d := &driver{log: logger}
	var plan []any
	var next time.Time
	for {
		select {
		case <-stop:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if d.handle(msg) {
				switch {
				case plan == nil:
					plan = append([]any{protocol.ToolMsg{Type: protocol.TypeTool, Enabled: true}},
						stroke(float32(*x), float32(*z), float32(*length), *steps)...)
				case d.settled:
					if *undo {
						logger.Printf("drop settled; sending UNDO")
						_ = conn.WriteJSON(protocol.UndoMsg{Type: protocol.TypeUndo})
					}
					logger.Printf("done")
					return
				}
			}
		}
		if len(plan) > 0 && time.Now().After(next) {
			if err := conn.WriteJSON(plan[0]); err != nil {
				logger.Fatalf("send: %v", err)
			}
			plan = plan[1:]
			next = time.Now().Add(*pace)
		}
	}
}

// driver tracks what the server reports about our drop.
type driver struct {
	log     *log.Logger
	welcome bool
	started bool
	settled bool
	state   string
}

// handle processes one server message and reports whether the driver's progress changed.
func (d *driver) handle(msg []byte) bool {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return false
	}
	switch base.Type {
	case protocol.TypeWelcome:
		var w protocol.WelcomeMsg
		if err := json.Unmarshal(msg, &w); err != nil {
			return false
		}
		d.log.Printf("WELCOME operator_id=%s scene=%s frame_rate=%d", w.OperatorID, w.SceneID, w.FrameRateHz)
		d.welcome = true
		return true
	case protocol.TypeState:
		var st protocol.StateMsg
		if err := json.Unmarshal(msg, &st); err != nil {
			return false
		}
		if st.Status.State != d.state {
			d.log.Printf("frame=%d state=%s instances=%d next=%s", st.Frame, st.Status.State, st.Status.Instances, st.Status.NextName)
			d.state = st.Status.State
		}
		if st.Status.Running {
			d.started = true
			return false
		}
		if d.started && !d.settled {
			d.settled = true
			return true
		}
	case protocol.TypeError:
		var e protocol.ErrorMsg
		if err := json.Unmarshal(msg, &e); err == nil {
			d.log.Printf("ERROR %s on %s: %s", e.Code, e.RefType, e.Message)
		}
	}
	return false
}

// stroke builds the pointer events of one primary-button drag from (x, z) along +x.
// Rays start high above the scene and point straight down.
func stroke(x, z, length float32, steps int) []any {
	if steps < 1 {
		steps = 1
	}
	ray := func(phase string, px float32, seq uint64) protocol.PointerMsg {
		return protocol.PointerMsg{
			Type:   protocol.TypePointer,
			Seq:    seq,
			Phase:  phase,
			Origin: [3]float32{px, 50, z},
			Dir:    [3]float32{0, -1, 0},
		}
	}
	out := []any{ray(protocol.PhaseEnter, x, 1), ray(protocol.PhaseDown, x, 2)}
	for i := 1; i <= steps; i++ {
		out = append(out, ray(protocol.PhaseMove, x+length*float32(i)/float32(steps), uint64(2+i)))
	}
	out = append(out, ray(protocol.PhaseUp, x+length, uint64(3+steps)))
	return out
}
