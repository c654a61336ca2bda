package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/canary-cli/internal/agent"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadProfiles(t *testing.T) {
	path := writeFile(t, "logins.yaml.env", `
default:
  email: qa@example.com
  password: s3cr3t-pass
admin:
  email: admin@example.com
  password: "p@ss: word"
  tenant: acme
empty: {}
`)
	s, err := LoadProfiles(path, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, []string{"admin", "default", "empty"}, s.Names())
	assert.Equal(t, path, s.Path())

	fields, ok := s.Credentials("admin")
	require.True(t, ok)
	assert.Equal(t, "p@ss: word", fields["password"])
	assert.Equal(t, "acme", fields["tenant"])

	// Callers get a copy.
	fields["password"] = "changed"
	again, _ := s.Credentials("admin")
	assert.Equal(t, "p@ss: word", again["password"])

	_, ok = s.Credentials("empty")
	assert.False(t, ok, "a profile with no fields is treated as missing")
	_, ok = s.Credentials("nobody")
	assert.False(t, ok)
}

func TestLoadProfilesMissingFile(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s, err := LoadProfiles(filepath.Join(t.TempDir(), "absent.yaml"), zap.New(core))
	require.NoError(t, err)
	assert.Empty(t, s.Names())
	assert.Equal(t, 1, logs.FilterMessageSnippet("not found").Len())
}

func TestLoadProfilesInvalidYAMLHidesContent(t *testing.T) {
	path := writeFile(t, "logins.yaml.env", "default:\n  password: [unterminated-s3cr3t\n")
	_, err := LoadProfiles(path, zap.NewNop())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "s3cr3t")
}

func TestProfileStoreFeedsCredentialShim(t *testing.T) {
	s := NewProfileStore(map[string]map[string]string{
		"default": {"email": "qa@example.com", "password": "s3cr3t-pass"},
	}, zap.NewNop())

	shim, err := agent.NewCredentialShim(s, "default")
	require.NoError(t, err)
	assert.Equal(t, []string{"<EMAIL>", "<PASSWORD>"}, shim.Placeholders())

	_, err = agent.NewCredentialShim(s, "staging")
	assert.ErrorIs(t, err, agent.ErrUnknownProfile)
}

func TestLoadInstructions(t *testing.T) {
	t.Run("missing file uses defaults", func(t *testing.T) {
		got, err := LoadInstructions(filepath.Join(t.TempDir(), "state.yaml"), zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, DefaultInstructions(), got)
	})

	t.Run("partial file is merged", func(t *testing.T) {
		path := writeFile(t, "state.yaml", `
run_login:
  instructions: "Sign in with the QA account."
run_chats:
  instructions: "  "
`)
		got, err := LoadInstructions(path, zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, "Sign in with the QA account.", got.Login.Instructions)
		assert.Equal(t, LoginSystemPrompt, got.Login.SystemPrompt)
		assert.Equal(t, DefaultChatGoal, got.Chats.Instructions)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := writeFile(t, "state.yaml", "run_login: [")
		_, err := LoadInstructions(path, zap.NewNop())
		assert.Error(t, err)
	})
}

func TestDefaultTemplatesRender(t *testing.T) {
	data := agent.PromptData{
		Goal:         DefaultChatGoal,
		BaseURL:      "https://chat.example",
		Rounds:       2,
		Placeholders: []string{"<EMAIL>", "<PASSWORD>"},
	}

	login, err := agent.RenderTemplate("login", LoginSystemPrompt, data)
	require.NoError(t, err)
	assert.Contains(t, login, "Use these placeholders: <EMAIL> <PASSWORD>.")
	assert.Contains(t, login, "https://chat.example")

	chat, err := agent.RenderTemplate("chat", ChatSystemPrompt, data)
	require.NoError(t, err)
	assert.Contains(t, chat, "exactly 2 turn(s)")

	task, err := agent.RenderTemplate("task", ChatTaskPrompt, data)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(task, "Number of turns to complete: 2"))
}
