package simulator

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPayload(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want string
	}{
		{"event", `42["telemetry",{"x":1}]`, `["telemetry",{"x":1}]`},
		{"nested arrays", `42["telemetry",{"p":[1,2]}]`, `["telemetry",{"p":[1,2]}]`},
		{"null data", `42["telemetry",null]`, ""},
		{"no array", `42`, ""},
		{"reversed brackets", `42]x[`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractPayload([]byte(tt.msg))
			if string(got) != tt.want {
				t.Errorf("ExtractPayload(%q) = %q, want %q", tt.msg, got, tt.want)
			}
		})
	}
}

func TestIsEvent(t *testing.T) {
	assert.True(t, IsEvent([]byte(`42["x"]`)))
	assert.False(t, IsEvent([]byte(`42`)))
	assert.False(t, IsEvent([]byte(`2`)))
	assert.False(t, IsEvent([]byte(`40`)))
}

func TestDecodeEvent(t *testing.T) {
	name, data, err := DecodeEvent([]byte(`["telemetry",{"x":1}]`))
	require.NoError(t, err)
	assert.Equal(t, "telemetry", name)
	assert.JSONEq(t, `{"x":1}`, string(data))

	name, data, err = DecodeEvent([]byte(`["manual"]`))
	require.NoError(t, err)
	assert.Equal(t, "manual", name)
	assert.Nil(t, data)

	_, _, err = DecodeEvent([]byte(`[]`))
	assert.ErrorIs(t, err, ErrNoEvent)

	_, _, err = DecodeEvent([]byte(`[1,2]`))
	assert.Error(t, err)

	_, _, err = DecodeEvent([]byte(`{`))
	assert.Error(t, err)
}

func TestDecodeTelemetry(t *testing.T) {
	data := `{
		"x": 909.48, "y": 1128.67, "s": 124.83, "d": 6.16, "yaw": 0, "speed": 21.5,
		"previous_path_x": [910.1, 910.5], "previous_path_y": [1128.7, 1128.7],
		"end_path_s": 125.9, "end_path_d": 6.0,
		"sensor_fusion": [
			[0, 1000, 1130, 20, 0.5, 220, 6.1],
			[1, 1010, 1126, null, 0, 230, 2.0],
			[2, 1020]
		]
	}`
	in, err := DecodeTelemetry([]byte(data))
	require.NoError(t, err)

	assert.Equal(t, 909.48, in.Telemetry.X)
	assert.Equal(t, 21.5, in.Telemetry.Speed)
	assert.Equal(t, []float64{910.1, 910.5}, in.PreviousX)
	assert.Equal(t, 125.9, in.EndS)
	require.Len(t, in.Agents, 3)

	a := in.Agents[0]
	assert.Equal(t, 0, a.ID)
	assert.Equal(t, 220.0, a.S)
	assert.True(t, a.Complete())

	assert.True(t, math.IsNaN(in.Agents[1].VX))
	assert.False(t, in.Agents[1].Complete())

	assert.Equal(t, 2, in.Agents[2].ID)
	assert.True(t, math.IsNaN(in.Agents[2].D))
}

func TestDecodeTelemetryMissingFields(t *testing.T) {
	in, err := DecodeTelemetry([]byte(`{"x": 1}`))
	require.NoError(t, err)
	assert.Equal(t, 1.0, in.Telemetry.X)
	assert.True(t, math.IsNaN(in.Telemetry.Speed))
	assert.True(t, math.IsNaN(in.EndS))
	assert.Empty(t, in.Agents)

	_, err = DecodeTelemetry([]byte(`[1]`))
	assert.Error(t, err)
}

func TestEncodeControl(t *testing.T) {
	msg, err := EncodeControl([]float64{1.5, 2}, []float64{3, 4.25})
	require.NoError(t, err)
	require.True(t, IsEvent(msg))

	var parts []json.RawMessage
	require.NoError(t, json.Unmarshal(msg[2:], &parts))
	require.Len(t, parts, 2)
	assert.JSONEq(t, `"control"`, string(parts[0]))
	assert.JSONEq(t, `{"next_x":[1.5,2],"next_y":[3,4.25]}`, string(parts[1]))
}
