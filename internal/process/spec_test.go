package process

import (
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellQuote(t *testing.T) {
	cases := map[string]string{
		"":          "''",
		"plain":     "'plain'",
		"it's":      `'it'\''s'`,
		"a b $HOME": "'a b $HOME'",
	}
	for in, want := range cases {
		assert.Equal(t, want, shellQuote(in), in)
	}
}

func TestScriptWithoutCallback(t *testing.T) {
	s := Spec{Name: "t", Command: "echo hi"}
	assert.Equal(t, "echo hi", s.Script())
}

func TestScriptQuotesCallback(t *testing.T) {
	s := Spec{
		Name:     "it's mine",
		Command:  "echo hi; exit 3",
		Callback: []string{"/usr/bin/taskctl", "--state-dir", "/tmp/a b", "callback"},
	}
	script := s.Script()
	assert.Contains(t, script, "trap "+exitHook+" EXIT\n")
	assert.Contains(t, script, `'/usr/bin/taskctl' '--state-dir' '/tmp/a b' 'callback' --pid "$$" -- 'it'\''s mine' "$__taskctl_rc"`)
	assert.True(t, strings.HasSuffix(script, "echo hi; exit 3\n"))
}

func TestScriptReportsExitStatus(t *testing.T) {
	sh, err := exec.LookPath("sh")
	require.NoError(t, err)
	s := Spec{Name: "n", Command: "exit 7", Callback: []string{"echo", "cb"}}
	out, err := exec.Command(sh, "-c", s.Script()).Output()

	var ee *exec.ExitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 7, ee.ExitCode(), "wrapper must keep the command's status")
	assert.Regexp(t, `^cb --pid \d+ -- n 7\n$`, string(out))
}

func TestBuildCommand(t *testing.T) {
	_, err := Spec{Command: "   "}.BuildCommand()
	require.ErrorIs(t, err, ErrEmptyCommand)

	_, err = Spec{Command: "true", Shell: "/no/such/shell"}.BuildCommand()
	require.Error(t, err)

	cmd, err := Spec{Command: "true", WorkDir: "/tmp"}.BuildCommand()
	require.NoError(t, err)
	assert.Equal(t, "-c", cmd.Args[1])
	assert.Equal(t, "/tmp", cmd.Dir)
}

func TestResolveShellDefault(t *testing.T) {
	sh, err := resolveShell("")
	require.NoError(t, err)
	assert.Contains(t, defaultShells, sh)
}
