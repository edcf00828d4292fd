// Package player turns a layout tile into the media player command line.
package player

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/loykin/viewport/internal/layout"
	"github.com/loykin/viewport/internal/marker"
	"github.com/loykin/viewport/internal/process"
)

const (
	DefaultBinary       = "mpv"
	DefaultScreenWidth  = 3840
	DefaultScreenHeight = 2160
)

// Geometry is a window rectangle in pixels.
type Geometry struct {
	W, H, X, Y int
}

// String renders the X11 geometry form WxH+X+Y.
func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", g.W, g.H, g.X, g.Y)
}

// Builder renders launch specs for tiles.
type Builder struct {
	Binary       string
	Args         []string // flags placed before geometry/title/source
	ScreenWidth  int
	ScreenHeight int
	WorkDir      string
}

// Geometry divides the screen evenly by the grid and scales the cell by the tile span.
func (b Builder) Geometry(grid layout.Grid, t layout.Tile) Geometry {
	sw, sh := b.ScreenWidth, b.ScreenHeight
	if sw <= 0 {
		sw = DefaultScreenWidth
	}
	if sh <= 0 {
		sh = DefaultScreenHeight
	}
	rows, cols := max(grid.Rows, 1), max(grid.Cols, 1)
	cw, ch := sw/cols, sh/rows
	return Geometry{
		W: cw * max(t.Span.W, 1),
		H: ch * max(t.Span.H, 1),
		X: t.Key.Col * cw,
		Y: t.Key.Row * ch,
	}
}

// Build returns the launch spec for t. The source URL is always the last argument.
func (b Builder) Build(grid layout.Grid, t layout.Tile) process.LaunchSpec {
	bin := b.Binary
	if bin == "" {
		bin = DefaultBinary
	}
	args := make([]string, 0, len(b.Args)+3)
	args = append(args, b.Args...)
	args = append(args,
		"--geometry="+b.Geometry(grid, t).String(),
		t.Key.TitleArg(),
		t.Source,
	)
	return process.LaunchSpec{
		Name:    t.Key.String(),
		Path:    bin,
		Args:    args,
		WorkDir: b.WorkDir,
	}
}

// Names is the set of executable names that count as players for b.
func (b Builder) Names() []string {
	bin := b.Binary
	if bin == "" {
		bin = DefaultBinary
	}
	return []string{filepath.Base(bin)}
}

// Serves reports whether argv was launched for source.
func Serves(args []string, source string) bool {
	return source != "" && slices.Contains(args, source)
}

// Marker extracts the tile marker from a player's argv.
func Marker(args []string) (marker.Marker, bool) {
	return marker.FromArgs(args)
}
