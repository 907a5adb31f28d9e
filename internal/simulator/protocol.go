// Package simulator speaks the socket.io style text protocol of the driving
// simulator over a websocket. Event frames look like
//
//	42["telemetry",{...}]
//
// and every telemetry frame is answered with either a control frame carrying
// the next path or a manual frame handing control back to the simulator.
package simulator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/velocity.planner/internal/decision"
	"github.com/banshee-data/velocity.planner/internal/planner"
)

const (
	// EventTelemetry is the only event the planner reacts to.
	EventTelemetry = "telemetry"

	eventPrefix = "42"
	pingFrame   = "2"
	pongFrame   = "3"
)

// ManualFrame tells the simulator to keep driving on its own.
var ManualFrame = []byte(`42["manual",{}]`)

// ErrNoEvent is returned for payloads that are not an [event, data] array.
var ErrNoEvent = errors.New("payload is not an event array")

// ExtractPayload returns the JSON array embedded in a frame, from the first
// '[' to the last ']'. It returns nil when the frame carries "null" or no
// array at all.
func ExtractPayload(msg []byte) []byte {
	if bytes.Contains(msg, []byte("null")) {
		return nil
	}
	start := bytes.IndexByte(msg, '[')
	end := bytes.LastIndexByte(msg, ']')
	if start < 0 || end < start {
		return nil
	}
	return msg[start : end+1]
}

// IsEvent reports whether msg is a socket.io event frame.
func IsEvent(msg []byte) bool {
	return len(msg) > len(eventPrefix) && bytes.HasPrefix(msg, []byte(eventPrefix))
}

// telemetryFrame mirrors the simulator's telemetry object. Pointers
// distinguish a missing value from zero.
type telemetryFrame struct {
	X             *float64     `json:"x"`
	Y             *float64     `json:"y"`
	S             *float64     `json:"s"`
	D             *float64     `json:"d"`
	Yaw           *float64     `json:"yaw"`
	Speed         *float64     `json:"speed"`
	PreviousPathX []float64    `json:"previous_path_x"`
	PreviousPathY []float64    `json:"previous_path_y"`
	EndPathS      *float64     `json:"end_path_s"`
	EndPathD      *float64     `json:"end_path_d"`
	SensorFusion  [][]*float64 `json:"sensor_fusion"`
}

// DecodeEvent splits an event payload into its name and raw data.
func DecodeEvent(payload []byte) (string, json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(payload, &parts); err != nil {
		return "", nil, fmt.Errorf("decode event: %w", err)
	}
	if len(parts) == 0 {
		return "", nil, ErrNoEvent
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return "", nil, fmt.Errorf("decode event name: %w", err)
	}
	var data json.RawMessage
	if len(parts) > 1 {
		data = parts[1]
	}
	return name, data, nil
}

// DecodeTelemetry turns a telemetry object into planner input. Missing
// numbers become NaN so that validation and the lane checks fail safe.
func DecodeTelemetry(data []byte) (planner.Input, error) {
	var f telemetryFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return planner.Input{}, fmt.Errorf("decode telemetry: %w", err)
	}

	in := planner.Input{
		Telemetry: planner.Telemetry{
			X:     orNaN(f.X),
			Y:     orNaN(f.Y),
			S:     orNaN(f.S),
			D:     orNaN(f.D),
			Yaw:   orNaN(f.Yaw),
			Speed: orNaN(f.Speed),
		},
		PreviousX: f.PreviousPathX,
		PreviousY: f.PreviousPathY,
		EndS:      orNaN(f.EndPathS),
		EndD:      orNaN(f.EndPathD),
		Agents:    make([]decision.Agent, 0, len(f.SensorFusion)),
	}
	for _, row := range f.SensorFusion {
		in.Agents = append(in.Agents, decodeAgent(row))
	}
	return in, nil
}

// decodeAgent reads one [id, x, y, vx, vy, s, d] row.
func decodeAgent(row []*float64) decision.Agent {
	at := func(i int) float64 {
		if i >= len(row) {
			return math.NaN()
		}
		return orNaN(row[i])
	}
	id := -1
	if v := at(0); !math.IsNaN(v) {
		id = int(v)
	}
	return decision.Agent{
		ID: id,
		X:  at(1),
		Y:  at(2),
		VX: at(3),
		VY: at(4),
		S:  at(5),
		D:  at(6),
	}
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

type controlMsg struct {
	NextX []float64 `json:"next_x"`
	NextY []float64 `json:"next_y"`
}

// EncodeControl builds the control frame for a planned path.
func EncodeControl(x, y []float64) ([]byte, error) {
	body, err := json.Marshal([]any{"control", controlMsg{NextX: x, NextY: y}})
	if err != nil {
		return nil, fmt.Errorf("encode control: %w", err)
	}
	return append([]byte(eventPrefix), body...), nil
}
