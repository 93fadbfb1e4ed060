package loop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/vloop/pkg/fault"
	"github.com/ternarybob/vloop/pkg/sdk"
)

func newRun(t *testing.T, ct sdk.ChangeType) *Run {
	t.Helper()
	r, err := NewRun(ct, "checkout")
	require.NoError(t, err)
	return r
}

func TestNewRun(t *testing.T) {
	r := newRun(t, sdk.ChangeUI)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, sdk.StageCodeQuality, r.Stage())
	assert.Equal(t, 0, r.AttemptsAtStage())
	assert.False(t, r.IsTerminal())

	_, err := NewRun("refactor", "")
	assert.Equal(t, fault.EUsage, fault.CodeOf(err))
}

func TestRun_PassAdvancesThroughMandatoryStagesOnly(t *testing.T) {
	tests := []struct {
		change sdk.ChangeType
		want   []sdk.Stage
	}{
		{sdk.ChangeLogicOnly, []sdk.Stage{sdk.StageCodeQuality}},
		{sdk.ChangeUI, []sdk.Stage{sdk.StageCodeQuality, sdk.StageVisual}},
		{sdk.ChangeAPIRoute, []sdk.Stage{sdk.StageCodeQuality, sdk.StageConsoleNetwork}},
		{sdk.ChangeFullFeature, sdk.VerifyingStages()},
	}

	for _, tt := range tests {
		t.Run(tt.change.String(), func(t *testing.T) {
			r := newRun(t, tt.change)
			var visited []sdk.Stage
			for !r.IsTerminal() {
				visited = append(visited, r.Stage())
				require.NoError(t, r.RecordPass(r.Stage()))
			}
			assert.Equal(t, tt.want, visited)
			assert.Equal(t, sdk.StageDone, r.Stage())
			assert.Equal(t, tt.want, r.Verified())
		})
	}
}

func TestRun_OutcomeForOtherStageIsRejected(t *testing.T) {
	r := newRun(t, sdk.ChangeFullFeature)

	err := r.RecordPass(sdk.StageVisual)
	assert.Equal(t, fault.EStageOrder, fault.CodeOf(err))
	assert.Equal(t, sdk.StageCodeQuality, r.Stage(), "a stage is never entered before its predecessor passed")

	err = r.RecordFailure(sdk.StageInteraction, "boom")
	assert.Equal(t, fault.EStageOrder, fault.CodeOf(err))
	assert.Equal(t, 0, r.AttemptsAtStage())
	assert.Empty(t, r.Outcomes)
}

func TestRun_ThirdFailureFails(t *testing.T) {
	r := newRun(t, sdk.ChangeLogicOnly)

	require.NoError(t, r.RecordFailure(sdk.StageCodeQuality, "lint: 2 errors"))
	assert.Equal(t, 1, r.AttemptsAtStage())
	require.NoError(t, r.RecordFailure(sdk.StageCodeQuality, "lint: 1 error"))
	assert.Equal(t, 2, r.AttemptsAtStage())
	assert.Equal(t, sdk.StageCodeQuality, r.Stage())

	require.NoError(t, r.RecordFailure(sdk.StageCodeQuality, "type error in cart.ts"))
	assert.Equal(t, sdk.StageFailed, r.Stage())
	assert.Equal(t, 3, r.AttemptsAtStage())
	assert.False(t, r.FinishedAt.IsZero())

	err := r.RecordPass(sdk.StageCodeQuality)
	assert.Equal(t, fault.ERunTerminal, fault.CodeOf(err))
}

func TestRun_AttemptsResetOnAdvance(t *testing.T) {
	r := newRun(t, sdk.ChangeFullFeature)

	require.NoError(t, r.RecordFailure(sdk.StageCodeQuality, "x"))
	require.NoError(t, r.RecordFailure(sdk.StageCodeQuality, "y"))
	require.NoError(t, r.RecordPass(sdk.StageCodeQuality))

	assert.Equal(t, sdk.StageVisual, r.Stage())
	assert.Equal(t, 0, r.AttemptsAtStage())

	require.NoError(t, r.RecordFailure(sdk.StageVisual, "missing header"))
	require.NoError(t, r.RecordFailure(sdk.StageVisual, "missing header"))
	assert.Equal(t, sdk.StageVisual, r.Stage(), "two failures at a fresh stage do not escalate")
}

func TestRun_OutcomeAttemptNumbers(t *testing.T) {
	r := newRun(t, sdk.ChangeUI)
	require.NoError(t, r.RecordFailure(sdk.StageCodeQuality, "x"))
	require.NoError(t, r.RecordPass(sdk.StageCodeQuality))
	require.NoError(t, r.RecordPass(sdk.StageVisual))

	require.Len(t, r.Outcomes, 3)
	assert.Equal(t, 1, r.Outcomes[0].Attempt)
	assert.Equal(t, 2, r.Outcomes[1].Attempt)
	assert.Equal(t, 1, r.Outcomes[2].Attempt)
	assert.Len(t, r.History, 2)
}

func TestRun_ReportLogicOnlyEscalation(t *testing.T) {
	r := newRun(t, sdk.ChangeLogicOnly)
	for i := 0; i < sdk.MaxStageAttempts; i++ {
		require.NoError(t, r.RecordFailure(sdk.StageCodeQuality, "go vet: unreachable code"))
	}

	rep := r.Report()
	assert.Equal(t, sdk.StageFailed, rep.FinalStage)
	assert.Empty(t, rep.Verified)
	assert.Len(t, rep.Failures, 3)
	require.NotNil(t, rep.Escalation)
	assert.Equal(t, sdk.StageCodeQuality, rep.Escalation.Stage)
	assert.Equal(t, 3, rep.Escalation.Attempts)
	assert.Len(t, rep.Escalation.Reasons, 3)

	for _, o := range rep.Outcomes {
		assert.NotEqual(t, sdk.StageVisual, o.Stage, "visual check is never entered")
	}
	require.Len(t, rep.Escalation.Unverified, 1)
	assert.Equal(t, sdk.StageCodeQuality, rep.Escalation.Unverified[0].Stage)
	assert.Contains(t, rep.Escalation.Unverified[0].Reason, "failed 3 times")
}

func TestRun_ReportUnavailableStage(t *testing.T) {
	r := newRun(t, sdk.ChangeUI)
	require.NoError(t, r.RecordPass(sdk.StageCodeQuality))
	for i := 0; i < sdk.MaxStageAttempts; i++ {
		require.NoError(t, r.Record(sdk.StageOutcome{
			Stage:       sdk.StageVisual,
			Unavailable: true,
			Reason:      "dev server at http://localhost:3000 is not reachable",
		}))
	}

	rep := r.Report()
	assert.Equal(t, []sdk.Stage{sdk.StageCodeQuality}, rep.Verified)
	require.NotNil(t, rep.Escalation)
	assert.True(t, rep.Escalation.Unavailable)

	var visual *sdk.SkippedStage
	for i := range rep.Skipped {
		if rep.Skipped[i].Stage == sdk.StageVisual {
			visual = &rep.Skipped[i]
		}
	}
	require.NotNil(t, visual)
	assert.Contains(t, visual.Reason, "could not be verified automatically")
}

func TestRun_ReportSkippedReasons(t *testing.T) {
	r := newRun(t, sdk.ChangeAPIRoute)
	require.NoError(t, r.RecordPass(sdk.StageCodeQuality))

	rep := r.Report()
	reasons := map[sdk.Stage]string{}
	for _, s := range rep.Skipped {
		reasons[s.Stage] = s.Reason
	}
	assert.Contains(t, reasons[sdk.StageVisual], "not required")
	assert.Contains(t, reasons[sdk.StageInteraction], "not required")
	assert.Contains(t, reasons[sdk.StageConsoleNetwork], "pending")
	assert.Nil(t, rep.Escalation)
	assert.False(t, rep.Succeeded())
}

func TestRun_ReportNotReachedAfterFailure(t *testing.T) {
	r := newRun(t, sdk.ChangeFullFeature)
	for i := 0; i < sdk.MaxStageAttempts; i++ {
		require.NoError(t, r.RecordFailure(sdk.StageCodeQuality, "tsc failed"))
	}

	esc := r.Escalation()
	require.NotNil(t, esc)
	require.Len(t, esc.Unverified, 4)
	assert.Contains(t, esc.Unverified[1].Reason, "not reached")
}

func TestRun_CloneIsIndependent(t *testing.T) {
	r := newRun(t, sdk.ChangeUI)
	require.NoError(t, r.RecordFailure(sdk.StageCodeQuality, "x"))

	c := r.Clone()
	require.NoError(t, r.RecordPass(sdk.StageCodeQuality))

	assert.Equal(t, sdk.StageCodeQuality, c.Stage())
	assert.Len(t, c.Outcomes, 1)
	assert.Len(t, r.Outcomes, 2)
}

func TestRun_SnapshotRestore(t *testing.T) {
	r := newRun(t, sdk.ChangeFormInteractive)
	require.NoError(t, r.RecordPass(sdk.StageCodeQuality))
	require.NoError(t, r.RecordFailure(sdk.StageVisual, "button missing"))

	data, err := r.Snapshot()
	require.NoError(t, err)

	restored, err := Restore(data)
	require.NoError(t, err)
	assert.Equal(t, r.ID, restored.ID)
	assert.Equal(t, sdk.StageVisual, restored.Stage())
	assert.Equal(t, 1, restored.AttemptsAtStage())
	assert.Equal(t, "checkout", restored.Feature)
	assert.Len(t, restored.Outcomes, 2)

	require.NoError(t, restored.RecordPass(sdk.StageVisual))
	assert.Equal(t, sdk.StageInteraction, restored.Stage())
}

func TestRestore_TerminalRuns(t *testing.T) {
	done := newRun(t, sdk.ChangeUI)
	require.NoError(t, done.RecordPass(sdk.StageCodeQuality))
	require.NoError(t, done.RecordPass(sdk.StageVisual))

	failed := newRun(t, sdk.ChangeLogicOnly)
	for i := 0; i < sdk.MaxStageAttempts; i++ {
		require.NoError(t, failed.RecordFailure(sdk.StageCodeQuality, "lint"))
	}

	for _, r := range []*Run{done, failed} {
		data, err := r.Snapshot()
		require.NoError(t, err)
		restored, err := Restore(data)
		require.NoError(t, err)
		assert.Equal(t, r.Stage(), restored.Stage())
		assert.Equal(t, r.AttemptsAtStage(), restored.AttemptsAtStage())
	}
}

func TestRun_Unverified(t *testing.T) {
	r := newRun(t, sdk.ChangeUI)
	assert.Equal(t, []sdk.Stage{sdk.StageCodeQuality, sdk.StageVisual}, r.Unverified())

	require.NoError(t, r.RecordPass(sdk.StageCodeQuality))
	require.NoError(t, r.RecordPass(sdk.StageVisual))
	assert.True(t, r.IsDone())
	assert.Empty(t, r.Unverified())

	forged := &Run{ID: "x", ChangeType: sdk.ChangeUI, Current: sdk.StageDone}
	assert.True(t, forged.IsDone())
	assert.Len(t, forged.Unverified(), 2)
}

func TestRestore_RejectsUnreachableState(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"garbage", `{`},
		{"no id", `{"change_type":"ui_change","current_stage":"code_quality"}`},
		{"bad change type", `{"id":"a","change_type":"x","current_stage":"code_quality"}`},
		{"stage not required", `{"id":"a","change_type":"logic_only","current_stage":"visual_check"}`},
		{"too many attempts", `{"id":"a","change_type":"ui_change","current_stage":"visual_check","attempts_at_stage":3}`},
		{"done without outcomes", `{"id":"a","change_type":"logic_only","current_stage":"done"}`},
		{"failed without outcomes", `{"id":"a","change_type":"ui_change","current_stage":"failed","attempts_at_stage":3}`},
		{"done with a stage missing", `{"id":"a","change_type":"ui_change","current_stage":"done",
			"outcomes":[{"stage":"code_quality","passed":true}]}`},
		{"failed after one failure", `{"id":"a","change_type":"logic_only","current_stage":"failed","attempts_at_stage":3,
			"outcomes":[{"stage":"code_quality","passed":false,"reason":"lint"}]}`},
		{"outcome out of order", `{"id":"a","change_type":"ui_change","current_stage":"code_quality",
			"outcomes":[{"stage":"visual_check","passed":true}]}`},
		{"attempts disagree", `{"id":"a","change_type":"logic_only","current_stage":"code_quality","attempts_at_stage":2,
			"outcomes":[{"stage":"code_quality","passed":false,"reason":"lint"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Restore([]byte(tt.json))
			assert.Equal(t, fault.EDecode, fault.CodeOf(err))
		})
	}
}
