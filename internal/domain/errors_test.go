package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("update: %w", E(KindNotFound, "UpdateJob", ErrJobNotFound))

	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, ErrJobNotFound))
	assert.Equal(t, KindConflict, KindOf(ErrAlreadyRanToday))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.False(t, IsKind(nil, KindUnknown))
}

func TestError_Message(t *testing.T) {
	err := Ef(KindTransient, "fetch", "status %d", 503)
	assert.Equal(t, "fetch: status 503", err.Error())
	assert.Equal(t, "a refresh job is already running", ErrJobAlreadyRunning.Error())
}

func TestSanitizeMessage(t *testing.T) {
	assert.Equal(t, "line one  line two", SanitizeMessage("line one\n\tline two\x00"))

	long := strings.Repeat("x", 800)
	got := SanitizeMessage(long)
	assert.Len(t, []rune(got), maxStoredErrorLen+3)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestProgressStatus_CanAdvanceTo(t *testing.T) {
	assert.True(t, ProgressPending.CanAdvanceTo(ProgressProcessing))
	assert.True(t, ProgressProcessing.CanAdvanceTo(ProgressProcessing))
	assert.True(t, ProgressProcessing.CanAdvanceTo(ProgressFailed))
	assert.False(t, ProgressProcessing.CanAdvanceTo(ProgressPending))
	assert.False(t, ProgressCompleted.CanAdvanceTo(ProgressFailed))
	assert.False(t, ProgressFailed.CanAdvanceTo(ProgressProcessing))
}

func TestSeverityFromLevel(t *testing.T) {
	assert.Equal(t, SeverityHigh, SeverityFromLevel(4))
	assert.Equal(t, SeverityMedium, SeverityFromLevel(3))
	assert.Equal(t, SeverityLow, SeverityFromLevel(2))
	assert.Equal(t, SeverityInfo, SeverityFromLevel(1))
	assert.Equal(t, SeverityInfo, SeverityFromLevel(0))
}

func TestNewJobView_EmptyErrors(t *testing.T) {
	view := NewJobView(&RefreshJob{ID: "j", Status: JobStatusRunning, TotalCountries: 3}, "france")
	assert.NotNil(t, view.Errors)
	assert.Equal(t, "france", view.CurrentCountry)
}
