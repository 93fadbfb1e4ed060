package report

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/vloop/pkg/loop"
	"github.com/ternarybob/vloop/pkg/sdk"
)

func newRun(t *testing.T, ct sdk.ChangeType) *loop.Run {
	t.Helper()
	r, err := loop.NewRun(ct, "signup")
	require.NoError(t, err)
	return r
}

func TestMarkdown_DoneRun(t *testing.T) {
	run := newRun(t, sdk.ChangeUI)
	require.NoError(t, run.RecordPass(sdk.StageCodeQuality))

	ev := sdk.NewEvidence(sdk.StageVisual).Add("home rendered", true, "h1 found")
	ev.Summary = "1 of 1 pages rendered"
	ev.AddArtifact("home", "/tmp/home.png")
	require.NoError(t, run.Record(sdk.StageOutcome{Stage: sdk.StageVisual, Passed: true, Evidence: ev}))

	doc := Markdown(run.Report())

	assert.Contains(t, doc, "# Verification: ui_change (signup)")
	assert.Contains(t, doc, "**VERIFIED**")
	assert.Contains(t, doc, "| Visual check | ✓ passed |")
	assert.Contains(t, doc, "- Visual check: 1 of 1 pages rendered")
	assert.Contains(t, doc, "| Interaction | - not required |")
	assert.Contains(t, doc, "Visual check home: /tmp/home.png")
	assert.NotContains(t, doc, "## Escalation")
}

func TestMarkdown_EscalatedRunNeverClaimsUnexecutedStages(t *testing.T) {
	run := newRun(t, sdk.ChangeFullFeature)
	require.NoError(t, run.RecordPass(sdk.StageCodeQuality))
	for i := 0; i < sdk.MaxStageAttempts; i++ {
		ev := sdk.NewEvidence(sdk.StageVisual).Add("form visible", false, "#signup not found")
		require.NoError(t, run.Record(sdk.StageOutcome{
			Stage:    sdk.StageVisual,
			Reason:   "form visible: #signup not found",
			Evidence: ev,
		}))
	}

	rep := run.Report()
	doc := Markdown(rep)

	assert.Contains(t, doc, "**ESCALATED**")
	assert.Contains(t, doc, "| Visual check | ✗ failed |")
	assert.Contains(t, doc, "| Interaction | - not verified |")
	assert.Contains(t, doc, "Visual check failed 3 times and needs a human.")
	assert.Contains(t, doc, "3. form visible: #signup not found")
	assert.Contains(t, doc, "### Visual check, attempt 2")
	assert.NotContains(t, doc, "| Interaction | ✓")
	assert.NotContains(t, doc, "| Console & network | ✓")
	assert.Equal(t, "ESCALATED", Status(rep))
}

func TestRows_InProgress(t *testing.T) {
	run := newRun(t, sdk.ChangeAPIRoute)
	require.NoError(t, run.RecordFailure(sdk.StageCodeQuality, "go vet failed"))

	rows := Rows(run.Report())
	require.Len(t, rows, len(sdk.VerifyingStages()))

	byStage := make(map[sdk.Stage]Row)
	for _, r := range rows {
		byStage[r.Stage] = r
	}
	assert.Equal(t, "not verified", byStage[sdk.StageCodeQuality].Status)
	assert.Contains(t, byStage[sdk.StageCodeQuality].Note, "in progress")
	assert.Equal(t, "not required", byStage[sdk.StageVisual].Status)
	assert.Equal(t, "not verified", byStage[sdk.StageConsoleNetwork].Status)
	assert.Equal(t, "IN PROGRESS", Status(run.Report()))
}

func TestRenderTerminal(t *testing.T) {
	run := newRun(t, sdk.ChangeLogicOnly)
	require.NoError(t, run.RecordPass(sdk.StageCodeQuality))

	out := RenderTerminal(run.Report(), 80)
	assert.Contains(t, out, "VERIFIED")
	assert.Contains(t, out, "Code quality")
	assert.Equal(t, "no run", stripANSI(RenderTerminal(nil, 80)))
}

func TestCriteria(t *testing.T) {
	c := sdk.NewCriterion("signup", "Submitting with a | in the name shows 'Invalid name'")
	out := Criteria([]sdk.Criterion{*c})
	assert.Contains(t, out, sdk.ShortID(c.ID))
	assert.Contains(t, out, `with a \| in`)
	assert.Equal(t, "No criteria.\n", Criteria(nil))
}

func stripANSI(s string) string {
	var sb strings.Builder
	inEsc := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			inEsc = true
		case inEsc && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z'):
			inEsc = false
		case !inEsc:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
