package sandbox_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viable-systems/warden/internal/sandbox"
)

func TestBuiltinProfiles(t *testing.T) {
	p := sandbox.BuiltinProfiles()

	assert.Equal(t, []string{"clocked", "pure"}, p.Names())

	pure, ok := p.Get("pure")
	require.True(t, ok)
	assert.Equal(t, sandbox.Capabilities{}, pure, "pure must grant nothing")

	clocked, ok := p.Get("clocked")
	require.True(t, ok)
	assert.True(t, clocked.Stdio)
	assert.True(t, clocked.Clock)
	assert.False(t, clocked.Random)

	_, ok = p.Get("trusted")
	assert.False(t, ok)
}

func TestLoadProfiles(t *testing.T) {
	writeFile := func(t *testing.T, content string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "profiles.yaml")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		return path
	}

	t.Run("Merges Over Builtins", func(t *testing.T) {
		path := writeFile(t, `
trusted:
  stdio: true
  clock: true
  random: true
  env:
    MODE: batch
  args: ["--fast"]
`)
		p, err := sandbox.LoadProfiles(path)
		require.NoError(t, err)

		assert.Equal(t, []string{"clocked", "pure", "trusted"}, p.Names())

		trusted, ok := p.Get("trusted")
		require.True(t, ok)
		assert.True(t, trusted.Random)
		assert.Equal(t, map[string]string{"MODE": "batch"}, trusted.Env)
		assert.Equal(t, []string{"--fast"}, trusted.Args)

		// Builtins survive the merge.
		_, ok = p.Get("pure")
		assert.True(t, ok)
	})

	t.Run("File Wins On Collision", func(t *testing.T) {
		path := writeFile(t, `
pure:
  stdio: true
`)
		p, err := sandbox.LoadProfiles(path)
		require.NoError(t, err)

		pure, ok := p.Get("pure")
		require.True(t, ok)
		assert.True(t, pure.Stdio)
	})

	t.Run("Missing File", func(t *testing.T) {
		_, err := sandbox.LoadProfiles(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("Malformed YAML", func(t *testing.T) {
		path := writeFile(t, "pure: [not: a: mapping")
		_, err := sandbox.LoadProfiles(path)
		assert.Error(t, err)
	})
}
