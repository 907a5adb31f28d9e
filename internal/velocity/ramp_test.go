package velocity

import (
	"math"
	"testing"
)

var ramp = Ramp{Step: 0.336, Max: 49.5}

func TestRampNext(t *testing.T) {
	tests := []struct {
		name      string
		speed     float64
		tooClose  bool
		emergency bool
		want      float64
	}{
		{"accelerate from rest", 0, false, false, 0.336},
		{"accelerate", 20, false, false, 20.336},
		{"clamp at max", 49.4, false, false, 49.5},
		{"hold at max", 49.5, false, false, 49.5},
		{"follow", 20, true, false, 19.664},
		{"emergency", 20, true, true, 19.328},
		{"emergency ignored when clear", 20, false, true, 20.336},
		{"never negative", 0.1, true, true, 0},
		{"above max after reconfig", 60, false, false, 49.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ramp.Next(tt.speed, tt.tooClose, tt.emergency)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Next(%v, %v, %v) = %v, want %v", tt.speed, tt.tooClose, tt.emergency, got, tt.want)
			}
		})
	}
}

func TestRampBounds(t *testing.T) {
	speed := 0.0
	flags := []struct{ tooClose, emergency bool }{
		{false, false}, {true, false}, {true, true}, {false, false},
	}
	for i := 0; i < 1000; i++ {
		f := flags[(i*7)%len(flags)]
		next := ramp.Next(speed, f.tooClose, f.emergency)
		if next < 0 || next > ramp.Max {
			t.Fatalf("cycle %d: speed %v out of [0, %v]", i, next, ramp.Max)
		}
		if math.Abs(next-speed) > ramp.maxDelta()+1e-12 {
			t.Fatalf("cycle %d: step %v exceeds %v", i, next-speed, ramp.maxDelta())
		}
		speed = next
	}
}

func TestRampReachesMax(t *testing.T) {
	speed := 0.0
	cycles := 0
	for speed < ramp.Max {
		speed = ramp.Next(speed, false, false)
		cycles++
		if cycles > 1000 {
			t.Fatal("ramp never reached max")
		}
	}
	// 49.5 / 0.336 rounds up to 148 cycles
	if cycles != 148 {
		t.Errorf("reached max after %d cycles, want 148", cycles)
	}
	if speed != ramp.Max {
		t.Errorf("speed = %v, want %v", speed, ramp.Max)
	}
}
