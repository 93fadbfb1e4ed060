package service

import (
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vloop/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Service.DataDir = t.TempDir()
	cfg.Service.Port = 0
	return cfg
}

func TestDaemon_Lifecycle(t *testing.T) {
	cfg := testConfig(t)
	d := NewDaemon(cfg, arbor.NewLogger())

	stopped := false
	d.OnStop(func() { stopped = true })

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	})
	require.NoError(t, d.Start(handler))
	assert.Error(t, d.Start(handler), "second start fails")

	data, err := os.ReadFile(cfg.PIDPath())
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(data)))

	running, pid := IsRunning(cfg)
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), pid)

	resp, err := http.Get("http://" + d.Addr() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	go d.Wait()
	d.Stop()
	d.Stop()

	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
	assert.True(t, stopped)
	assert.NoFileExists(t, cfg.PIDPath())
}

func TestIsRunning_StalePID(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, cfg.EnsureDirectories())

	running, _ := IsRunning(cfg)
	assert.False(t, running)

	require.NoError(t, os.WriteFile(cfg.PIDPath(), []byte("not-a-pid"), 0o644))
	running, _ = IsRunning(cfg)
	assert.False(t, running)

	assert.Error(t, StopRunning(cfg))
}
