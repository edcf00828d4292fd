package marker

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want Marker
		ok   bool
	}{
		{"tile_0_0", Marker{0, 0}, true},
		{"tile_12_3", Marker{12, 3}, true},
		{"tile_5_5", Marker{5, 5}, true},
		{"overlay_tile_0_0", Marker{}, false},
		{"tile_0", Marker{}, false},
		{"tile_0_0_1", Marker{}, false},
		{"tile_-1_0", Marker{}, false},
		{"tile__0", Marker{}, false},
		{"tile_a_b", Marker{}, false},
		{"", Marker{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := Parse(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestStringRoundTrip(t *testing.T) {
	m := New(3, 7)
	assert.Equal(t, "tile_3_7", m.String())
	assert.Equal(t, "--title=tile_3_7", m.TitleArg())
	back, ok := Parse(m.String())
	require.True(t, ok)
	assert.Equal(t, m, back)
}

func TestFromArgs(t *testing.T) {
	args := []string{"mpv", "--no-border", "--title=tile_1_0", "rtsp://cam/1"}
	m, ok := FromArgs(args)
	require.True(t, ok)
	assert.Equal(t, Marker{1, 0}, m)

	m, ok = FromArgs([]string{"mpv", "--title", "tile_2_2", "rtsp://cam"})
	require.True(t, ok)
	assert.Equal(t, Marker{2, 2}, m)

	m, ok = FromArgs([]string{"/bin/sh", "-c", "sleep 30", "tile_0_1"})
	require.True(t, ok)
	assert.Equal(t, Marker{0, 1}, m)

	_, ok = FromArgs([]string{"python3", "overlay_box.py", "overlay_tile_0_0", "red"})
	assert.False(t, ok)

	_, ok = FromArgs([]string{"mpv", "--title=preview", "rtsp://cam"})
	assert.False(t, ok)

	_, ok = FromArgs(nil)
	assert.False(t, ok)
}

func TestParseKey(t *testing.T) {
	m, err := ParseKey("1,2")
	require.NoError(t, err)
	assert.Equal(t, Marker{1, 2}, m)

	m, err = ParseKey(" 0 , 3 ")
	require.NoError(t, err)
	assert.Equal(t, Marker{0, 3}, m)

	m, err = ParseKey("tile_4_4")
	require.NoError(t, err)
	assert.Equal(t, Marker{4, 4}, m)

	_, err = ParseKey("1")
	assert.Error(t, err)
	_, err = ParseKey("x,1")
	assert.Error(t, err)
}

func TestMarker_JSON(t *testing.T) {
	b, err := json.Marshal(map[Marker]int{New(1, 2): 3})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"tile_1_2":3}` {
		t.Fatalf("unexpected json %s", b)
	}
	var back map[Marker]int
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back[New(1, 2)] != 3 {
		t.Fatalf("round trip lost key: %v", back)
	}
}
