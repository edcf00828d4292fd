package server

import (
	"testing"

	"github.com/loykin/viewport/internal/layout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeBase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{" api ", "/api"},
	}
	for _, c := range cases {
		if got := sanitizeBase(c.in); got != c.want {
			t.Fatalf("sanitizeBase(%q)=%q want %q", c.in, got, c.want)
		}
	}
}

func TestParseTiles(t *testing.T) {
	keys, err := parseTiles([]string{"0,1", "tile_2_3;1,1"})
	require.NoError(t, err)
	assert.Equal(t, []layout.Key{{Row: 0, Col: 1}, {Row: 2, Col: 3}, {Row: 1, Col: 1}}, keys)

	keys, err = parseTiles(nil)
	require.NoError(t, err)
	assert.Empty(t, keys)

	for _, bad := range []string{"x", "1", "-1,2", "1,2,3", "tile_a_b"} {
		_, err := parseTiles([]string{bad})
		assert.Error(t, err, bad)
	}
}

func FuzzParseTiles(f *testing.F) {
	for _, s := range []string{"0,0", "tile_1_2", "", " 3 , 4 ", "a,b", "1,2;tile_0_0"} {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, s string) {
		keys, err := parseTiles([]string{s})
		if err != nil {
			return
		}
		for _, k := range keys {
			if k.Row < 0 || k.Col < 0 {
				t.Fatalf("negative key %v from %q", k, s)
			}
		}
	})
}
