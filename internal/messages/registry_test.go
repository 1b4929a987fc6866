package messages

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRegistry(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "messages.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingFile(t *testing.T) {
	reg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.NotNil(t, reg)
	assert.Empty(t, reg.All())
}

func TestLoadRegistry(t *testing.T) {
	path := writeRegistry(t, `
packs:
  - name: default
    messages:
      - "Your session in {project} is waiting"
      - "Still idle after {minutes} minutes"
  - name: terse
    messages:
      - "nudge"
`)

	reg, err := Load(path)
	require.NoError(t, err)

	packs := reg.All()
	require.Len(t, packs, 2)
	// Definition order is preserved.
	assert.Equal(t, "default", packs[0].Name)
	assert.Equal(t, "terse", packs[1].Name)

	p, ok := reg.Get("default")
	require.True(t, ok)
	assert.Len(t, p.Messages, 2)

	_, ok = reg.Get("missing")
	assert.False(t, ok)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeRegistry(t, "packs: [not: valid: yaml")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestResolveSettingsPoolWins(t *testing.T) {
	path := writeRegistry(t, `
packs:
  - name: default
    messages: ["from pack"]
`)
	reg, err := Load(path)
	require.NoError(t, err)

	pool := reg.Resolve([]string{"from settings"}, []string{"builtin"})
	assert.Equal(t, []string{"from settings"}, pool)
}

func TestResolveDefaultPack(t *testing.T) {
	path := writeRegistry(t, `
packs:
  - name: default
    messages: ["from pack"]
`)
	reg, err := Load(path)
	require.NoError(t, err)

	pool := reg.Resolve(nil, []string{"builtin"})
	assert.Equal(t, []string{"from pack"}, pool)
}

func TestResolveFallback(t *testing.T) {
	reg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	pool := reg.Resolve(nil, []string{"builtin"})
	assert.Equal(t, []string{"builtin"}, pool)
}

func TestResolveEmptyDefaultPackFallsThrough(t *testing.T) {
	path := writeRegistry(t, `
packs:
  - name: default
    messages: []
`)
	reg, err := Load(path)
	require.NoError(t, err)

	pool := reg.Resolve(nil, []string{"builtin"})
	assert.Equal(t, []string{"builtin"}, pool)
}

func TestPick(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	assert.Equal(t, "", Pick(rng, nil))
	assert.Equal(t, "only", Pick(rng, []string{"only"}))

	candidates := []string{"a", "b", "c"}
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		got := Pick(rng, candidates)
		assert.Contains(t, candidates, got)
		seen[got] = true
	}
	// All candidates show up over enough draws.
	assert.Len(t, seen, 3)
}

func TestExpand(t *testing.T) {
	tests := []struct {
		name     string
		template string
		project  string
		idleFor  time.Duration
		want     string
	}{
		{
			name:     "both placeholders",
			template: "{project} idle for {minutes} minutes",
			project:  "myapp",
			idleFor:  10 * time.Minute,
			want:     "myapp idle for 10 minutes",
		},
		{
			name:     "no placeholders",
			template: "wake up",
			project:  "myapp",
			idleFor:  time.Minute,
			want:     "wake up",
		},
		{
			name:     "sub-minute idle rounds up to one",
			template: "{minutes}",
			project:  "p",
			idleFor:  10 * time.Second,
			want:     "1",
		},
		{
			name:     "zero idle",
			template: "{minutes}",
			project:  "p",
			idleFor:  0,
			want:     "0",
		},
		{
			name:     "repeated placeholder",
			template: "{project} {project}",
			project:  "x",
			idleFor:  0,
			want:     "x x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Expand(tt.template, tt.project, tt.idleFor))
		})
	}
}
