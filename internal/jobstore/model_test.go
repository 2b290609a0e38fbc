package jobstore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_IsTerminal(t *testing.T) {
	assert.True(t, StatusSucceeded.IsTerminal())
	assert.True(t, StatusDead.IsTerminal())
	assert.True(t, StatusCanceled.IsTerminal())
	assert.False(t, StatusQueued.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
	assert.False(t, StatusFailed.IsTerminal())
}

func TestStatus_Valid(t *testing.T) {
	assert.True(t, StatusQueued.valid())
	assert.False(t, Status("bogus").valid())
}

func TestTruncateError_LeavesShortStringUnchanged(t *testing.T) {
	assert.Equal(t, "boom", truncateError("boom"))
}

func TestTruncateError_TruncatesToMaxLen(t *testing.T) {
	long := strings.Repeat("x", maxLastErrorLen+500)
	got := truncateError(long)
	assert.Len(t, got, maxLastErrorLen)
}
