package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_ValidPrompt(t *testing.T) {
	prompt, err := Get("generation.json", "generate-profile")
	require.NoError(t, err)
	assert.NotEmpty(t, prompt)
	assert.Contains(t, prompt, "{{.PositionName}}")
}

func TestGet_InvalidFile(t *testing.T) {
	_, err := Get("nonexistent.json", "some-key")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read prompt file")
}

func TestGet_InvalidKey(t *testing.T) {
	_, err := Get("generation.json", "nonexistent-key")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestMustGet_Panics(t *testing.T) {
	assert.Panics(t, func() {
		MustGet("nonexistent.json", "some-key")
	})
}

func TestFormat(t *testing.T) {
	result := Format("Profile for {{.PositionName}} in {{.OrgUnit}}", map[string]string{
		"PositionName": "Backend Engineer",
		"OrgUnit":      "Platform",
	})
	assert.Equal(t, "Profile for Backend Engineer in Platform", result)
}

func TestFormat_MissingKeyLeftIntact(t *testing.T) {
	result := Format("Hello {{.Name}}", map[string]string{})
	assert.Equal(t, "Hello {{.Name}}", result)
}
