package infra

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppleScriptQuitter_Quit(t *testing.T) {
	runner := &mockCommandRunner{}
	q := NewAppleScriptQuitterWithRunner(runner, "/usr/bin/osascript")

	require.NoError(t, q.Quit("com.tinyspeck.slackmacgap"))

	require.Len(t, runner.calls, 1)
	assert.Equal(t, `/usr/bin/osascript -e tell application id "com.tinyspeck.slackmacgap" to quit`, runner.calls[0])
}

func TestAppleScriptQuitter_RejectsUnsafeIdentifier(t *testing.T) {
	runner := &mockCommandRunner{}
	q := NewAppleScriptQuitterWithRunner(runner, "/usr/bin/osascript")

	for _, id := range []string{"", `evil" to do shell script "rm`, "a\\b", "a\nb"} {
		assert.Error(t, q.Quit(id), id)
	}
	assert.Empty(t, runner.calls)
}

func TestAppleScriptQuitter_PropagatesStartError(t *testing.T) {
	runner := &mockCommandRunner{startErr: errors.New("fork failed")}
	q := NewAppleScriptQuitterWithRunner(runner, "/usr/bin/osascript")

	assert.Error(t, q.Quit("com.example.app"))
}
