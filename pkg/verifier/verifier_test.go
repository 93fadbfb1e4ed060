package verifier

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/vloop/pkg/browser"
	"github.com/ternarybob/vloop/pkg/config"
	"github.com/ternarybob/vloop/pkg/loop"
	"github.com/ternarybob/vloop/pkg/quality"
	"github.com/ternarybob/vloop/pkg/sdk"
)

type stubBrowser struct {
	closed bool
}

func (b *stubBrowser) Navigate(ctx context.Context, url string) error { return nil }
func (b *stubBrowser) WaitVisible(ctx context.Context, selector string) error { return nil }
func (b *stubBrowser) Screenshot(ctx context.Context, p string, full bool) error { return nil }
func (b *stubBrowser) Text(ctx context.Context, selector string) (string, error) {
	return "Welcome", nil
}
func (b *stubBrowser) HTML(ctx context.Context, selector string) (string, error) {
	return "<body>Welcome</body>", nil
}
func (b *stubBrowser) Click(ctx context.Context, selector string) error { return nil }
func (b *stubBrowser) Fill(ctx context.Context, selector, value string) error { return nil }
func (b *stubBrowser) ConsoleMessages(*regexp.Regexp) []browser.ConsoleMessage { return nil }
func (b *stubBrowser) NetworkRequests(string) []browser.NetworkRequest { return nil }
func (b *stubBrowser) Reset() {}
func (b *stubBrowser) Close() error {
	b.closed = true
	return nil
}

// scriptedExecutor fails each command name the configured number of times.
type scriptedExecutor struct {
	mu       sync.Mutex
	failures map[string]int
	calls    int
}

func (e *scriptedExecutor) Exec(ctx context.Context, cmd quality.Command) (quality.CommandResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	res := quality.CommandResult{Name: cmd.Name, Script: cmd.Script, Passed: true}
	if e.failures[cmd.Name] > 0 {
		e.failures[cmd.Name]--
		res.Passed = false
		res.ExitCode = 1
		res.Stderr = "1 problem"
	}
	return res, nil
}

func testConfig(t *testing.T) *config.Project {
	cfg := config.Default()
	cfg.Project.RootDir = t.TempDir()
	cfg.Project.BaseURL = "http://localhost:5173"
	cfg.Quality.Commands = []quality.Command{{Name: "lint", Script: "npm run lint"}}
	return cfg
}

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func countingFactory(b browser.Automation, err error, launches *int) BrowserFactory {
	return func(ctx context.Context, opts browser.Options) (browser.Automation, error) {
		*launches++
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

func TestVerify_LogicOnlyNeverLaunchesBrowser(t *testing.T) {
	launches := 0
	v, err := New(testConfig(t),
		quiet(),
		WithExecutor(&scriptedExecutor{}),
		WithBrowserFactory(countingFactory(&stubBrowser{}, nil, &launches)),
	)
	require.NoError(t, err)

	run, rep, err := v.Verify(context.Background(), sdk.ChangeLogicOnly, "pricing")
	require.NoError(t, err)
	assert.True(t, rep.Succeeded())
	assert.True(t, run.IsDone())
	assert.Equal(t, []sdk.Stage{sdk.StageCodeQuality}, rep.Verified)
	assert.Zero(t, launches)
	assert.NoError(t, v.Close())
}

func TestVerify_UIChangeSharesBrowser(t *testing.T) {
	launches := 0
	b := &stubBrowser{}
	v, err := New(testConfig(t),
		quiet(),
		WithExecutor(&scriptedExecutor{}),
		WithBrowserFactory(countingFactory(b, nil, &launches)),
	)
	require.NoError(t, err)

	_, rep, err := v.Verify(context.Background(), sdk.ChangeUI, "banner")
	require.NoError(t, err)
	assert.True(t, rep.Succeeded())
	assert.Equal(t, []sdk.Stage{sdk.StageCodeQuality, sdk.StageVisual}, rep.Verified)

	_, _, err = v.Verify(context.Background(), sdk.ChangeUI, "banner again")
	require.NoError(t, err)
	assert.Equal(t, 1, launches, "browser is reused across runs")

	require.NoError(t, v.Close())
	assert.True(t, b.closed)
}

func TestVerify_BrowserUnavailableEscalates(t *testing.T) {
	launches := 0
	startErr := fmt.Errorf("start browser: no chrome: %w", sdk.ErrUnavailable)
	v, err := New(testConfig(t),
		quiet(),
		WithExecutor(&scriptedExecutor{}),
		WithBrowserFactory(countingFactory(nil, startErr, &launches)),
	)
	require.NoError(t, err)

	_, rep, err := v.Verify(context.Background(), sdk.ChangeUI, "banner")
	require.NoError(t, err, "a failed run is not an error")
	require.True(t, rep.Escalated())
	assert.Equal(t, sdk.StageVisual, rep.Escalation.Stage)
	assert.True(t, rep.Escalation.Unavailable)
	assert.Equal(t, sdk.MaxStageAttempts, launches, "each attempt retries the launch")
	assert.NotContains(t, rep.Verified, sdk.StageVisual)
}

func TestVerify_RemediatorBetweenFailures(t *testing.T) {
	exec := &scriptedExecutor{failures: map[string]int{"lint": 2}}
	remediations := 0
	var saved []string

	v, err := New(testConfig(t),
		quiet(),
		WithExecutor(exec),
		WithRemediator(loop.RemediatorFunc(func(ctx context.Context, run *loop.Run, failed sdk.StageOutcome) error {
			remediations++
			return nil
		})),
		WithOnSave(func(r *loop.Run) error {
			saved = append(saved, r.Stage().String())
			return nil
		}),
	)
	require.NoError(t, err)

	_, rep, err := v.Verify(context.Background(), sdk.ChangeLogicOnly, "lint fix")
	require.NoError(t, err)
	assert.True(t, rep.Succeeded())
	assert.Equal(t, 3, rep.Attempts)
	assert.Len(t, rep.Failures, 2)
	assert.Equal(t, 2, remediations)
	assert.Equal(t, 3, exec.calls)
	assert.Equal(t, "code_quality", saved[0], "run is saved before the first attempt")
	assert.Equal(t, "done", saved[len(saved)-1])
}

func TestStep_AdvancesOneStage(t *testing.T) {
	v, err := New(testConfig(t), quiet(),
		WithExecutor(&scriptedExecutor{}),
		WithBrowserFactory(countingFactory(&stubBrowser{}, nil, new(int))),
	)
	require.NoError(t, err)

	run, err := loop.NewRun(sdk.ChangeUI, "banner")
	require.NoError(t, err)

	out, err := v.Step(context.Background(), run)
	require.NoError(t, err)
	assert.True(t, out.Passed)
	assert.Equal(t, sdk.StageVisual, run.Stage())

	out, err = v.Step(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, sdk.StageVisual, out.Stage)
	assert.True(t, run.IsDone())
}

func TestRunners(t *testing.T) {
	v, err := New(testConfig(t), quiet())
	require.NoError(t, err)

	runners, err := v.Runners(sdk.ChangeFullFeature)
	require.NoError(t, err)
	stages := make([]sdk.Stage, len(runners))
	for i, r := range runners {
		stages[i] = r.Stage()
	}
	assert.Equal(t, sdk.VerifyingStages(), stages)

	t.Run("override", func(t *testing.T) {
		custom := sdk.StageRunnerFunc{For: sdk.StageCodeQuality, Fn: func(ctx context.Context) (*sdk.Evidence, error) {
			return sdk.NewEvidence(sdk.StageCodeQuality).Add("custom", true, ""), nil
		}}
		v, err := New(testConfig(t), quiet(), WithStageRunner(custom))
		require.NoError(t, err)
		runners, err := v.Runners(sdk.ChangeLogicOnly)
		require.NoError(t, err)
		require.Len(t, runners, 1)
		ev, err := runners[0].Verify(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "custom", ev.Checks[0].Name)
	})

	t.Run("bad console pattern", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.ConsoleNetwork.ConsolePattern = "("
		v, err := New(cfg, quiet())
		require.NoError(t, err)
		_, err = v.Runners(sdk.ChangeAPIRoute)
		assert.Error(t, err)
	})
}

func TestNew_RejectsNilFactory(t *testing.T) {
	_, err := New(nil, WithBrowserFactory(nil))
	assert.Error(t, err)
}
