package dashboard

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/vloop/internal/store"
	projconfig "github.com/ternarybob/vloop/pkg/config"
	"github.com/ternarybob/vloop/pkg/loop"
	"github.com/ternarybob/vloop/pkg/sdk"
	"github.com/ternarybob/vloop/pkg/section"
	"github.com/ternarybob/vloop/pkg/tracker"
)

func source(t *testing.T, baseURL string) Source {
	t.Helper()
	cfg := projconfig.Default()
	cfg.Project.RootDir = t.TempDir()
	cfg.Project.BaseURL = baseURL
	cfg.Retry.InitialInterval = "1ms"
	cfg.Retry.MaxInterval = "2ms"

	return Source{
		Config:  cfg,
		Runs:    store.New(filepath.Join(cfg.Project.RootDir, "runs")),
		Tracker: tracker.NewMemory(),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func byName(panels []section.Panel) map[string]section.Panel {
	out := make(map[string]section.Panel, len(panels))
	for _, p := range panels {
		out[p.Name] = p
	}
	return out
}

func TestCompose_DevServerDownKeepsOtherSections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "vite crashed", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src := source(t, srv.URL)
	run, err := loop.NewRun(sdk.ChangeUI, "banner")
	require.NoError(t, err)
	require.NoError(t, run.RecordPass(sdk.StageCodeQuality))
	require.NoError(t, src.Runs.Save(run))
	_, err = src.Tracker.Add("banner", "The banner shows 'Free shipping over $50' on the home page")
	require.NoError(t, err)

	panels := Compose(context.Background(), src)
	require.Len(t, panels, 4)
	assert.Equal(t, []string{SectionRun, SectionCriteria, SectionDevServer, SectionHistory},
		[]string{panels[0].Name, panels[1].Name, panels[2].Name, panels[3].Name})
	assert.Equal(t, []string{SectionDevServer}, section.Failed(panels))

	got := byName(panels)
	dev := got[SectionDevServer]
	require.NotNil(t, dev.Failure)
	assert.Equal(t, "HTTP_503", string(dev.Failure.Code))
	assert.Equal(t, "Retry in a moment", dev.Failure.Action)

	assert.Contains(t, got[SectionRun].Body, "IN PROGRESS")
	assert.Contains(t, got[SectionRun].Body, "✓ Code quality")
	assert.Contains(t, got[SectionCriteria].Body, "0 completed, 0 in progress, 1 not started")
	assert.Contains(t, got[SectionHistory].Body, sdk.ShortID(run.ID))
}

func TestCompose_EmptyProject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<html>ok</html>")
	}))
	defer srv.Close()

	panels := byName(Compose(context.Background(), source(t, srv.URL)))
	for name, p := range panels {
		assert.True(t, p.OK, name)
	}
	assert.Contains(t, panels[SectionRun].Body, "No runs yet")
	assert.Contains(t, panels[SectionDevServer].Body, "reachable")
}

func TestCompose_NoBaseURL(t *testing.T) {
	src := source(t, "")
	src.Tracker = nil

	panels := byName(Compose(context.Background(), src))
	assert.True(t, panels[SectionDevServer].OK)
	assert.Contains(t, panels[SectionDevServer].Body, "No base_url configured")
	require.NotNil(t, panels[SectionCriteria].Failure)
	assert.Equal(t, "E_UNAVAILABLE", string(panels[SectionCriteria].Failure.Code))
}
