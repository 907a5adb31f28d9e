package simulator

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"

	"github.com/banshee-data/velocity.planner/internal/monitoring"
	"github.com/banshee-data/velocity.planner/internal/planner"
)

// maxFrameSize bounds a single telemetry frame.
const maxFrameSize = 1 << 20

// Handler accepts simulator websocket connections. Each connection gets its
// own planner session; frames on one connection are planned strictly in
// order on the connection's goroutine.
type Handler struct {
	planner *planner.Planner
	opts    *websocket.AcceptOptions
}

// NewHandler returns a Handler planning with p.
func NewHandler(p *planner.Planner) *Handler {
	return &Handler{
		planner: p,
		// the simulator connects without an Origin we could check
		opts: &websocket.AcceptOptions{InsecureSkipVerify: true},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, h.opts)
	if err != nil {
		monitoring.Logf("simulator: accept from %s: %v", r.RemoteAddr, err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxFrameSize)

	sess := h.planner.NewSession()
	h.planner.Observer().ObserveSession(sess, r.RemoteAddr)
	monitoring.Logf("simulator: session %s connected from %s", sess.ID, r.RemoteAddr)

	err = h.serve(r.Context(), conn, sess)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case websocket.CloseStatus(err) == websocket.StatusNormalClosure,
		websocket.CloseStatus(err) == websocket.StatusGoingAway:
	default:
		monitoring.Logf("simulator: session %s: %v", sess.ID, err)
	}
	monitoring.Logf("simulator: session %s disconnected after %d cycles", sess.ID, sess.Cycles)
	conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Handler) serve(ctx context.Context, conn *websocket.Conn, sess *planner.Session) error {
	for {
		typ, msg, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		reply := h.HandleFrame(sess, msg)
		if reply == nil {
			continue
		}
		if err := conn.Write(ctx, websocket.MessageText, reply); err != nil {
			return err
		}
	}
}

// HandleFrame runs one inbound frame through the planner and returns the
// reply, or nil when the frame needs none.
func (h *Handler) HandleFrame(sess *planner.Session, msg []byte) []byte {
	if string(msg) == pingFrame {
		return []byte(pongFrame)
	}
	if !IsEvent(msg) {
		return nil
	}

	payload := ExtractPayload(msg)
	if payload == nil {
		return ManualFrame
	}
	event, data, err := DecodeEvent(payload)
	if err != nil {
		monitoring.Logf("simulator: session %s: %v", sess.ID, err)
		return ManualFrame
	}
	if event != EventTelemetry {
		return nil
	}

	in, err := DecodeTelemetry(data)
	if err != nil {
		monitoring.Logf("simulator: session %s: %v", sess.ID, err)
		return ManualFrame
	}
	out, err := h.planner.Plan(sess, in)
	if err != nil {
		monitoring.Logf("simulator: session %s cycle failed: %v", sess.ID, err)
		return ManualFrame
	}
	reply, err := EncodeControl(out.X, out.Y)
	if err != nil {
		monitoring.Logf("simulator: session %s: %v", sess.ID, err)
		return ManualFrame
	}
	return reply
}
