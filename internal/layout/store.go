package layout

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/viper"
)

// document mirrors the file written by the layout chooser:
//
//	{"grid": [rows, cols], "tiles": [{"row":0,"col":0,"w":1,"h":1,"name":"..","url":".."}]}
type document struct {
	Grid  []int     `mapstructure:"grid"`
	Tiles []tileDoc `mapstructure:"tiles"`
}

type tileDoc struct {
	Row  int    `mapstructure:"row"`
	Col  int    `mapstructure:"col"`
	W    int    `mapstructure:"w"`
	H    int    `mapstructure:"h"`
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

// Snapshot is one read of the store.
type Snapshot struct {
	Layout *Layout
	// Hash is the content hash of the raw bytes. It is set whenever the file
	// could be read, even if it failed to parse, so callers can tell a new
	// broken document from the same broken document.
	Hash string
}

// Store reads a layout document from disk. It never writes.
type Store struct {
	path   string
	format string
}

// NewStore creates a store for path. The format is taken from the extension
// (json, yaml, yml, toml); anything else is read as json.
func NewStore(path string) *Store {
	return &Store{path: filepath.Clean(path), format: formatOf(path)}
}

func (s *Store) Path() string { return s.path }

// Read loads and validates the document. On a read error the returned
// snapshot is zero. On a parse or validation error Hash is still populated.
func (s *Store) Read() (Snapshot, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read layout %s: %w", s.path, err)
	}
	h := Hash(raw)
	l, err := Parse(raw, s.format)
	if err != nil {
		return Snapshot{Hash: h}, fmt.Errorf("layout %s: %w", s.path, err)
	}
	return Snapshot{Layout: l, Hash: h}, nil
}

// LoadFile reads and validates a layout document in one call.
func LoadFile(path string) (*Layout, error) {
	snap, err := NewStore(path).Read()
	if err != nil {
		return nil, err
	}
	return snap.Layout, nil
}

// Hash returns the content hash used for change detection.
func Hash(raw []byte) string {
	return strconv.FormatUint(xxhash.Sum64(raw), 16)
}

// Parse decodes a document in the given format and validates it.
func Parse(raw []byte, format string) (*Layout, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidLayout)
	}
	v := viper.New()
	v.SetConfigType(format)
	if err := v.ReadConfig(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	var doc document
	if err := v.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(doc.Grid) != 2 {
		return nil, fmt.Errorf("%w: grid must be [rows, cols], got %v", ErrInvalidLayout, doc.Grid)
	}
	tiles := make([]Tile, 0, len(doc.Tiles))
	for _, td := range doc.Tiles {
		tiles = append(tiles, Tile{
			Key:    Key{Row: td.Row, Col: td.Col},
			Span:   Span{W: td.W, H: td.H},
			Name:   td.Name,
			Source: strings.TrimSpace(td.URL),
		})
	}
	return New(Grid{Rows: doc.Grid[0], Cols: doc.Grid[1]}, tiles)
}

func formatOf(path string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "yaml", "yml":
		return "yaml"
	case "toml":
		return "toml"
	default:
		return "json"
	}
}
