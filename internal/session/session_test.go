package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeNextPath_EmptyFallsBackToDefault(t *testing.T) {
	assert.Equal(t, "/", NormalizeNextPath("", "/"))
}

func TestNormalizeNextPath_RejectsProtocolRelativeURL(t *testing.T) {
	assert.Equal(t, "/", NormalizeNextPath("//evil.example.com/phish", "/"))
}

func TestNormalizeNextPath_RejectsAbsoluteURL(t *testing.T) {
	assert.Equal(t, "/", NormalizeNextPath("https://evil.example.com", "/"))
}

func TestNormalizeNextPath_AcceptsLocalAbsolutePath(t *testing.T) {
	assert.Equal(t, "/dashboard/jobs", NormalizeNextPath("/dashboard/jobs", "/"))
}
