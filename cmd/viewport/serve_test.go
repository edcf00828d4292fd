package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/loykin/viewport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildArgs(t *testing.T) {
	got := childArgs([]string{"serve", "--daemonize", "--logfile", "/tmp/v.log", "--pidfile=/old.pid", "cfg.toml"}, "/run/v.pid")
	assert.Equal(t, []string{"serve", "cfg.toml", "--pidfile", "/run/v.pid"}, got)

	got = childArgs([]string{"serve", "--daemonize=true", "--pidfile", "/x.pid"}, "")
	assert.Equal(t, []string{"serve"}, got)
}

func TestRemovePidFile(t *testing.T) {
	require.NoError(t, removePidFile(""))
	p := filepath.Join(t.TempDir(), "v.pid")
	require.NoError(t, os.WriteFile(p, []byte("1\n"), 0o600))
	require.NoError(t, removePidFile(p))
	_, err := os.Stat(p)
	assert.True(t, os.IsNotExist(err))
}

func TestDaemonizeRefusedInChild(t *testing.T) {
	t.Setenv(daemonChildEnv, "1")
	require.Error(t, daemonize("", ""))
}

type countingCtrl struct {
	mu      sync.Mutex
	reloads int
	resets  int
}

func (c *countingCtrl) Reload(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reloads++
	return nil
}

func (c *countingCtrl) Reset(context.Context, ...viewport.Key) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resets++
	return 0, nil
}

func (c *countingCtrl) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reloads, c.resets
}

func TestHandleControlSignals(t *testing.T) {
	sigs := make(chan os.Signal, 2)
	ctrl := &countingCtrl{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		handleControlSignals(ctx, sigs, ctrl, slog.New(slog.NewTextHandler(io.Discard, nil)))
		close(done)
	}()

	for _, s := range controlSignals() {
		sigs <- s
	}
	wantReloads, wantResets := expectedControlCounts()
	require.Eventually(t, func() bool {
		r, s := ctrl.counts()
		return r == wantReloads && s == wantResets
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestRunServe_Once(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wall.json"), []byte(`{"grid":[1,1],"tiles":[{"row":0,"col":0}]}`), 0o600))
	cfgPath := filepath.Join(dir, "viewport.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
layout = "wall.json"
[probe]
kind = "none"
[player]
binary = "/nonexistent/viewport-test-player"
[server]
enabled = false
[metrics]
enabled = false
`), 0o600))

	require.NoError(t, runServe(context.Background(), ServeFlags{ConfigPath: cfgPath, Once: true}))
	require.Error(t, runServe(context.Background(), ServeFlags{ConfigPath: filepath.Join(dir, "missing.toml"), Once: true}))
}
