package trajectory

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/velocity.planner/internal/track"
)

func testConfig() Config {
	return Config{
		Horizon:        50,
		MinTrustedTail: 2,
		AnchorSpacing:  30,
		TargetX:        30,
		Period:         20 * time.Millisecond,
		UnitFactor:     2.24,
	}
}

// straightMap is a two-waypoint loop whose first segment runs along +x, so
// lane centres are lines y = -d.
func straightMap(t *testing.T) *track.Map {
	t.Helper()
	m, err := track.NewMap([]track.Waypoint{
		{X: 0, Y: 0, S: 0, DX: 0, DY: -1},
		{X: 1000, Y: 0, S: 1000, DX: 0, DY: -1},
	}, track.DefaultOptions())
	require.NoError(t, err)
	return m
}

func circleMap(t *testing.T) *track.Map {
	t.Helper()
	m, err := track.NewMap(track.CircleWaypoints(1000, 2000, 500, 180), track.DefaultOptions())
	require.NoError(t, err)
	return m
}

func TestSynthesizeColdStartStraight(t *testing.T) {
	s := NewSynthesizer(straightMap(t), testConfig())

	// 22.4 mph is 10 m/s, or 0.2 m per period
	path, err := s.Synthesize(Request{X: 100, Y: -6, RefS: 100, TargetD: 6, Speed: 22.4})
	require.NoError(t, err)
	require.Equal(t, 50, path.Len())
	assert.Equal(t, 0, path.Reused)

	for i := range path.X {
		assert.InDelta(t, 100+0.2*float64(i+1), path.X[i], 1e-6, "x[%d]", i)
		assert.InDelta(t, -6, path.Y[i], 1e-6, "y[%d]", i)
	}
}

func TestSynthesizeHorizonAndContinuity(t *testing.T) {
	m := circleMap(t)
	s := NewSynthesizer(m, testConfig())

	// ego in lane 1 at waypoint 0, heading along the circle
	x, y := m.ToCartesian(0, 6)
	first, err := s.Synthesize(Request{X: x, Y: y, YawDeg: 90, RefS: 0, TargetD: 6, Speed: 20})
	require.NoError(t, err)
	require.Equal(t, 50, first.Len())

	// the simulator consumed 12 points; the rest come back as the tail
	tailX, tailY := first.X[12:], first.Y[12:]
	endS, _, err := m.ToFrenet(tailX[len(tailX)-1], tailY[len(tailY)-1], math.Pi/2)
	require.NoError(t, err)

	second, err := s.Synthesize(Request{
		X: first.X[11], Y: first.Y[11], YawDeg: 90,
		RefS: endS, TargetD: 2, Speed: 20.336,
		PreviousX: tailX, PreviousY: tailY,
	})
	require.NoError(t, err)
	require.Equal(t, 50, second.Len())
	assert.Equal(t, len(tailX), second.Reused)

	if diff := cmp.Diff(tailX, second.X[:len(tailX)]); diff != "" {
		t.Errorf("tail x changed (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(tailY, second.Y[:len(tailY)]); diff != "" {
		t.Errorf("tail y changed (-want +got):\n%s", diff)
	}

	// new points continue smoothly from the tail at about one period apart
	perPeriod := 20.336 / 2.24 * 0.02
	for i := len(tailX); i < second.Len(); i++ {
		step := math.Hypot(second.X[i]-second.X[i-1], second.Y[i]-second.Y[i-1])
		assert.InDelta(t, perPeriod, step, 0.05, "step %d", i)
	}
}

func TestSynthesizeTruncatesLongTail(t *testing.T) {
	s := NewSynthesizer(straightMap(t), testConfig())

	prevX := make([]float64, 60)
	prevY := make([]float64, 60)
	for i := range prevX {
		prevX[i] = 100 + float64(i)
		prevY[i] = -6
	}
	path, err := s.Synthesize(Request{X: 99, Y: -6, RefS: 159, TargetD: 6, Speed: 30, PreviousX: prevX, PreviousY: prevY})
	require.NoError(t, err)

	if diff := cmp.Diff(prevX[:50], path.X); diff != "" {
		t.Errorf("x (-want +got):\n%s", diff)
	}
	assert.Equal(t, 50, path.Reused)
}

func TestSynthesizeExactHorizonTailSkipsFit(t *testing.T) {
	// these anchors would fail the fit, so it must not run
	s := NewSynthesizer(straightMap(t), testConfig())

	prevX := make([]float64, 50)
	prevY := make([]float64, 50)
	path, err := s.Synthesize(Request{YawDeg: 180, PreviousX: prevX, PreviousY: prevY})
	require.NoError(t, err)
	assert.Equal(t, 50, path.Len())
}

func TestSynthesizeErrors(t *testing.T) {
	s := NewSynthesizer(straightMap(t), testConfig())

	_, err := s.Synthesize(Request{PreviousX: []float64{1, 2}, PreviousY: []float64{1}})
	assert.Error(t, err)

	// facing backwards: the forward anchors land behind the reference
	_, err = s.Synthesize(Request{X: 100, Y: -6, YawDeg: 180, RefS: 100, TargetD: 6, Speed: 10})
	assert.True(t, errors.Is(err, ErrNonMonotonicAnchors), "got %v", err)
}

func TestSynthesizeStationaryTail(t *testing.T) {
	s := NewSynthesizer(straightMap(t), testConfig())

	path, err := s.Synthesize(Request{
		X: 100, Y: -6, RefS: 100, TargetD: 6, Speed: 0.336,
		PreviousX: []float64{100, 100}, PreviousY: []float64{-6, -6},
	})
	require.NoError(t, err)
	require.Equal(t, 50, path.Len())
	assert.Greater(t, path.X[49], 100.0)
}

func TestSynthesizeLaneChangeStaysFinite(t *testing.T) {
	m := circleMap(t)
	s := NewSynthesizer(m, testConfig())

	x, y := m.ToCartesian(200, 6)
	yaw := m.HeadingAt(m.ClosestWaypoint(x, y)) * 180 / math.Pi
	for _, d := range []float64{2, 6, 10} {
		path, err := s.Synthesize(Request{X: x, Y: y, YawDeg: yaw, RefS: 200, TargetD: d, Speed: 49.5})
		require.NoError(t, err, "d=%v", d)
		for i := range path.X {
			require.False(t, math.IsNaN(path.X[i]) || math.IsNaN(path.Y[i]), "point %d", i)
		}
	}
}
