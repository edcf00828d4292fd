// Package marker owns the identifying marker that ties a player process to a tile.
//
// Every place that needs to know whether a process is a tile process (process
// enumeration, duplicate detection, rogue detection, the player command line)
// goes through this package so they cannot disagree on the format.
package marker

import (
	"fmt"
	"strconv"
	"strings"
)

// Prefix is the fixed prefix of every tile marker, e.g. "tile_0_1".
const Prefix = "tile_"

const titleFlag = "--title"

// Marker identifies a tile position carried by a player process.
type Marker struct {
	Row int
	Col int
}

func New(row, col int) Marker { return Marker{Row: row, Col: col} }

// String renders the marker as tile_<row>_<col>.
func (m Marker) String() string {
	return Prefix + strconv.Itoa(m.Row) + "_" + strconv.Itoa(m.Col)
}

// MarshalText lets markers serve as JSON map keys and values.
func (m Marker) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Marker) UnmarshalText(b []byte) error {
	v, err := ParseKey(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// TitleArg renders the mpv window title argument carrying the marker.
func (m Marker) TitleArg() string { return titleFlag + "=" + m.String() }

// Parse parses a bare marker string. Anything that is not exactly
// tile_<row>_<col> with non-negative decimal row and col is rejected, so
// "overlay_tile_0_0" or "tile_0_0_x" never count as tile processes.
func Parse(s string) (Marker, bool) {
	rest, ok := strings.CutPrefix(s, Prefix)
	if !ok {
		return Marker{}, false
	}
	rs, cs, ok := strings.Cut(rest, "_")
	if !ok {
		return Marker{}, false
	}
	row, ok := parseIndex(rs)
	if !ok {
		return Marker{}, false
	}
	col, ok := parseIndex(cs)
	if !ok {
		return Marker{}, false
	}
	return Marker{Row: row, Col: col}, true
}

// ParseKey parses the operator-facing "row,col" form used by the CLI and the HTTP API.
// The marker form is accepted as well.
func ParseKey(s string) (Marker, error) {
	s = strings.TrimSpace(s)
	if m, ok := Parse(s); ok {
		return m, nil
	}
	rs, cs, ok := strings.Cut(s, ",")
	if !ok {
		return Marker{}, fmt.Errorf("invalid tile %q: want row,col or %s<row>_<col>", s, Prefix)
	}
	row, ok1 := parseIndex(strings.TrimSpace(rs))
	col, ok2 := parseIndex(strings.TrimSpace(cs))
	if !ok1 || !ok2 {
		return Marker{}, fmt.Errorf("invalid tile %q: row and col must be non-negative integers", s)
	}
	return Marker{Row: row, Col: col}, nil
}

// FromArgs extracts the marker from a process argument list. It recognises
// "--title=tile_r_c", "--title tile_r_c" and a bare "tile_r_c" argument. The
// first match wins.
func FromArgs(args []string) (Marker, bool) {
	for i, a := range args {
		if v, ok := strings.CutPrefix(a, titleFlag+"="); ok {
			if m, ok := Parse(v); ok {
				return m, true
			}
			continue
		}
		if a == titleFlag && i+1 < len(args) {
			if m, ok := Parse(args[i+1]); ok {
				return m, true
			}
			continue
		}
		if m, ok := Parse(a); ok {
			return m, true
		}
	}
	return Marker{}, false
}

func parseIndex(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
