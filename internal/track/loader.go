package track

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Load reads a waypoint table with one "x y s dx dy" record per line,
// separated by any whitespace. Blank lines and lines starting with '#' are
// skipped.
func Load(r io.Reader, opts Options) (*Map, error) {
	var wps []Waypoint
	scan := bufio.NewScanner(r)
	line := 0
	for scan.Scan() {
		line++
		text := strings.TrimSpace(scan.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 5 {
			return nil, fmt.Errorf("line %d: expected 5 fields, got %d", line, len(fields))
		}
		var vals [5]float64
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d field %d: %w", line, i+1, err)
			}
			vals[i] = v
		}
		wps = append(wps, Waypoint{X: vals[0], Y: vals[1], S: vals[2], DX: vals[3], DY: vals[4]})
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("failed to read waypoints: %w", err)
	}
	return NewMap(wps, opts)
}

// LoadFile opens path and reads it with Load.
func LoadFile(path string, opts Options) (*Map, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open waypoint file: %w", err)
	}
	defer f.Close()

	m, err := Load(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
