package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/velocity.planner/internal/config"
	"github.com/banshee-data/velocity.planner/internal/monitoring"
	"github.com/banshee-data/velocity.planner/internal/planner"
	"github.com/banshee-data/velocity.planner/internal/track"
)

type sessionCounter struct {
	sessions chan string
	cycles   chan planner.CycleReport
}

func (c *sessionCounter) ObserveSession(s *planner.Session, _ string) { c.sessions <- s.ID }
func (c *sessionCounter) ObserveCycle(r planner.CycleReport)          { c.cycles <- r }

func newTestHandler(t *testing.T, obs planner.Observer) *Handler {
	t.Helper()
	monitoring.SetLogger(t.Logf)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	m, err := track.NewMap([]track.Waypoint{
		{X: 0, Y: 0, S: 0, DX: 0, DY: -1},
		{X: 5000, Y: 0, S: 5000, DX: 0, DY: -1},
	}, track.DefaultOptions())
	require.NoError(t, err)
	return NewHandler(planner.New(config.EmptyPlannerConfig(), m, planner.WithObserver(obs)))
}

func telemetryFrameAt(s float64) string {
	return fmt.Sprintf(`42["telemetry",{"x":%[1]g,"y":-6,"s":%[1]g,"d":6,"yaw":0,"speed":0,`+
		`"previous_path_x":[],"previous_path_y":[],"end_path_s":0,"end_path_d":0,"sensor_fusion":[]}]`, s)
}

func TestHandleFrame(t *testing.T) {
	h := newTestHandler(t, nil)

	tests := []struct {
		name   string
		msg    string
		want   string
		prefix bool
	}{
		{name: "ping", msg: "2", want: "3"},
		{name: "connect ack", msg: "40", want: ""},
		{name: "null payload", msg: `42["telemetry",null]`, want: string(ManualFrame)},
		{name: "other event", msg: `42["reset",{}]`, want: ""},
		{name: "bad json", msg: `42["telemetry",{]`, want: string(ManualFrame)},
		{name: "malformed telemetry", msg: `42["telemetry",{"x":1}]`, want: string(ManualFrame)},
		{name: "telemetry", msg: telemetryFrameAt(100), want: `42["control",`, prefix: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := h.planner.NewSession()
			got := string(h.HandleFrame(sess, []byte(tt.msg)))
			if tt.prefix {
				assert.True(t, strings.HasPrefix(got, tt.want), "got %q", got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandlerServesSession(t *testing.T) {
	obs := &sessionCounter{
		sessions: make(chan string, 1),
		cycles:   make(chan planner.CycleReport, 8),
	}
	srv := httptest.NewServer(newTestHandler(t, obs))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var id string
	select {
	case id = <-obs.sessions:
	case <-ctx.Done():
		t.Fatal("no session observed")
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(telemetryFrameAt(100))))
		_, reply, err := conn.Read(ctx)
		require.NoError(t, err)

		_, data, err := DecodeEvent(ExtractPayload(reply))
		require.NoError(t, err)
		var ctl struct {
			NextX []float64 `json:"next_x"`
			NextY []float64 `json:"next_y"`
		}
		require.NoError(t, json.Unmarshal(data, &ctl))
		assert.Len(t, ctl.NextX, 50)
		assert.Len(t, ctl.NextY, 50)

		r := <-obs.cycles
		assert.Equal(t, id, r.SessionID)
		assert.Equal(t, uint64(i+1), r.Cycle)
	}

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("2")))
	_, reply, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "3", string(reply))

	conn.Close(websocket.StatusNormalClosure, "")
}
