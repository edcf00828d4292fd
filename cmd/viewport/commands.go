package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/loykin/viewport"
	"github.com/loykin/viewport/pkg/client"
)

func newClient(f APIFlags) *client.Client {
	return client.New(client.Config{
		BaseURL:  f.APIUrl,
		Timeout:  f.APITimeout,
		Insecure: f.Insecure,
	})
}

// daemonErr turns a transport failure into a hint to start the daemon.
func daemonErr(err error) error {
	if errors.Is(err, client.ErrUnreachable) {
		return fmt.Errorf("daemon not reachable - start it with 'viewport serve': %w", err)
	}
	return err
}

func runStatus(ctx context.Context, w io.Writer, f StatusFlags) error {
	c := newClient(f.APIFlags)
	if f.Tile != "" {
		ts, err := c.Tile(ctx, f.Tile)
		if err != nil {
			return daemonErr(err)
		}
		if f.JSON {
			return writeJSON(w, ts)
		}
		writeTiles(w, []client.TileStatus{*ts}, nil, time.Now())
		return nil
	}

	st, err := c.Status(ctx)
	if err != nil {
		return daemonErr(err)
	}
	if f.JSON {
		return writeJSON(w, st)
	}
	players, _ := c.Players(ctx)
	writeStatus(w, st, players, time.Now())
	return nil
}

func writeStatus(w io.Writer, st *client.Status, players map[string]client.PlayerSample, now time.Time) {
	_, _ = fmt.Fprintf(w, "layout  %s (%s)\n", st.LayoutPath, shortHash(st.LayoutHash))
	if st.LayoutErr != "" {
		_, _ = fmt.Fprintf(w, "error   %s\n", st.LayoutErr)
	}
	_, _ = fmt.Fprintf(w, "grid    %dx%d", st.Grid.Rows, st.Grid.Cols)
	if st.InGrace {
		_, _ = fmt.Fprint(w, "  (layout change grace)")
	}
	_, _ = fmt.Fprintln(w)
	if !st.LastCycle.IsZero() {
		_, _ = fmt.Fprintf(w, "cycle   #%d %s, took %s\n\n", st.Cycles, humanize.RelTime(st.LastCycle, now, "ago", "from now"), st.Duration.Round(time.Millisecond))
	}
	writeTiles(w, st.Tiles, players, now)
	for _, r := range st.Rogues {
		_, _ = fmt.Fprintf(w, "\nrogue   %s pid %d (seen %s)\n", r.Key, r.PID, humanize.RelTime(r.FirstSeen, now, "ago", "from now"))
	}
}

func writeTiles(w io.Writer, tiles []client.TileStatus, players map[string]client.PlayerSample, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TILE\tNAME\tSTATE\tPID\tUPTIME\tRESTARTS\tRSS\tSOURCE")
	for _, t := range tiles {
		pid, up, rss := "-", "-", "-"
		if t.PID > 0 {
			pid = fmt.Sprint(t.PID)
		}
		if !t.StartedAt.IsZero() {
			up = strings.TrimSuffix(humanize.RelTime(t.StartedAt, now, "", ""), " ")
		}
		if s, ok := players[t.Key]; ok && s.RSS > 0 {
			rss = humanize.IBytes(s.RSS)
		}
		state := t.State
		if t.ProbeError != "" {
			state += " (" + t.ProbeError + ")"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			t.Key, dash(t.Name), state, pid, up, t.ConsecutiveRestarts, rss, dash(t.Source))
	}
	_ = tw.Flush()
}

func runReset(ctx context.Context, w io.Writer, f ResetFlags) error {
	res, err := newClient(f.APIFlags).Reset(ctx, f.Tiles...)
	if err != nil {
		return daemonErr(err)
	}
	target := "all tiles"
	if len(f.Tiles) > 0 {
		target = strings.Join(f.Tiles, " ")
	}
	_, _ = fmt.Fprintf(w, "reset %s: %d quarantine(s) lifted\n", target, res.Lifted)
	return nil
}

func runReload(ctx context.Context, w io.Writer, f APIFlags) error {
	if err := newClient(f).Reload(ctx); err != nil {
		return daemonErr(err)
	}
	_, _ = fmt.Fprintln(w, "layout reloaded")
	return nil
}

func runValidate(w io.Writer, path string) error {
	lay, err := viewport.LoadLayout(path)
	if err != nil {
		return err
	}
	wanted := 0
	for _, k := range lay.Keys() {
		if t, _ := lay.Tile(k); t.Wanted() {
			wanted++
		}
	}
	_, _ = fmt.Fprintf(w, "%s: ok, %dx%d grid, %d tile(s), %d with a source\n",
		path, lay.Grid.Rows, lay.Grid.Cols, lay.Len(), wanted)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortHash(h string) string {
	if h == "" {
		return "unread"
	}
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
