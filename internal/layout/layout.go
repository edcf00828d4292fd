// Package layout reads the desired video-wall state written by the layout GUI.
package layout

import (
	"errors"
	"fmt"
	"sort"

	"github.com/loykin/viewport/internal/marker"
)

// ErrInvalidLayout marks a document that parsed but describes an impossible wall.
var ErrInvalidLayout = errors.New("invalid layout")

// Key is the identity of a tile: its grid position.
type Key = marker.Marker

// Grid is the wall shape.
type Grid struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// Span is the size multiplier of a tile; only geometry uses it.
type Span struct {
	W int `json:"w"`
	H int `json:"h"`
}

// Tile is one desired cell of the wall.
type Tile struct {
	Key    Key    `json:"key"`
	Span   Span   `json:"span"`
	Name   string `json:"name,omitempty"`
	Source string `json:"source,omitempty"`
}

// Wanted reports whether a player should run for the tile.
func (t Tile) Wanted() bool { return t.Source != "" }

// Layout is the full desired state. It is immutable once built.
type Layout struct {
	Grid  Grid   `json:"grid"`
	Tiles []Tile `json:"tiles"`
	index map[Key]int
}

// New builds a Layout and validates it.
func New(grid Grid, tiles []Tile) (*Layout, error) {
	l := &Layout{Grid: grid, Tiles: append([]Tile(nil), tiles...)}
	if err := l.validate(); err != nil {
		return nil, err
	}
	return l, nil
}

// Empty returns a layout with no tiles.
func Empty() *Layout { return &Layout{index: map[Key]int{}} }

func (l *Layout) validate() error {
	if l.Grid.Rows < 1 || l.Grid.Cols < 1 {
		return fmt.Errorf("%w: grid %dx%d must have at least one row and column", ErrInvalidLayout, l.Grid.Rows, l.Grid.Cols)
	}
	l.index = make(map[Key]int, len(l.Tiles))
	for i := range l.Tiles {
		t := &l.Tiles[i]
		if t.Key.Row < 0 || t.Key.Col < 0 || t.Key.Row >= l.Grid.Rows || t.Key.Col >= l.Grid.Cols {
			return fmt.Errorf("%w: tile %s outside %dx%d grid", ErrInvalidLayout, t.Key, l.Grid.Rows, l.Grid.Cols)
		}
		if t.Span.W < 0 || t.Span.H < 0 {
			return fmt.Errorf("%w: tile %s has negative span %dx%d", ErrInvalidLayout, t.Key, t.Span.W, t.Span.H)
		}
		if t.Span.W == 0 {
			t.Span.W = 1
		}
		if t.Span.H == 0 {
			t.Span.H = 1
		}
		if prev, dup := l.index[t.Key]; dup {
			return fmt.Errorf("%w: tiles %d and %d share position %s", ErrInvalidLayout, prev, i, t.Key)
		}
		l.index[t.Key] = i
	}
	return nil
}

// Tile looks up the tile at key.
func (l *Layout) Tile(key Key) (Tile, bool) {
	if l == nil {
		return Tile{}, false
	}
	i, ok := l.index[key]
	if !ok {
		return Tile{}, false
	}
	return l.Tiles[i], true
}

// Has reports whether key is declared.
func (l *Layout) Has(key Key) bool {
	_, ok := l.Tile(key)
	return ok
}

// Keys returns the declared positions in row-major order.
func (l *Layout) Keys() []Key {
	if l == nil {
		return nil
	}
	keys := make([]Key, 0, len(l.Tiles))
	for _, t := range l.Tiles {
		keys = append(keys, t.Key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Row != keys[j].Row {
			return keys[i].Row < keys[j].Row
		}
		return keys[i].Col < keys[j].Col
	})
	return keys
}

// Len returns the number of declared tiles.
func (l *Layout) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Tiles)
}
