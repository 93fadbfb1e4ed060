package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Format(t *testing.T) {
	err := New(EUsage, "missing --type")
	assert.Equal(t, "E_USAGE: missing --type", err.Error())

	err = Newf(EStageOrder, "stage %s is not current", "visual_check")
	assert.Equal(t, "E_STAGE_ORDER: stage visual_check is not current", err.Error())
}

func TestWrap_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(EUnavailable, "dev server unreachable", cause)

	assert.ErrorIs(t, err, cause)

	fe, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, EUnavailable, fe.Code)
}

func TestWrapWithDetails_CopiesMap(t *testing.T) {
	details := map[string]string{"status": "500"}
	err := WrapWithDetails(EHTTPStatus, "bad status", nil, details)
	details["status"] = "changed"

	fe, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, "500", fe.Details["status"])
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"coded", New(ETimeout, "x"), ETimeout},
		{"wrapped coded", fmt.Errorf("outer: %w", New(EDecode, "y")), EDecode},
		{"plain", errors.New("plain"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"usage", New(EUsage, "x"), 2},
		{"config", New(EConfig, "x"), 2},
		{"escalated", New(EEscalated, "x"), 3},
		{"other coded", New(EInternal, "x"), 1},
		{"plain", errors.New("x"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}
