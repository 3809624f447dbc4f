package process

import (
	"errors"
	"os/exec"
	"strings"
)

// ErrEmptyCommand is returned when a spec has nothing to run.
var ErrEmptyCommand = errors.New("empty command")

// exitHook is the shell function run from the EXIT trap. It captures the
// command's status before anything else can clobber $?.
const exitHook = "__taskctl_exit"

// Spec describes a detached task to be launched.
type Spec struct {
	Name     string   // task name passed back to the callback
	Command  string   // opaque shell line
	Shell    string   // shell path; empty picks bash, then sh
	LogPath  string   // stdout and stderr are appended here
	Callback []string // argv run on exit as: <argv> --pid <pid> -- <name> <rc>
	WorkDir  string   // optional working dir
	Env      []string // full environment; nil inherits the launcher's
}

// Script returns the shell program that runs Command. With a Callback the
// command runs under an EXIT trap that reports its status and then exits
// with that same status.
func (s Spec) Script() string {
	if len(s.Callback) == 0 {
		return s.Command
	}
	quoted := make([]string, len(s.Callback))
	for i, a := range s.Callback {
		quoted[i] = shellQuote(a)
	}
	var b strings.Builder
	b.WriteString(exitHook + "() {\n")
	b.WriteString("\t__taskctl_rc=$?\n")
	b.WriteString("\ttrap - EXIT\n")
	b.WriteString("\t" + strings.Join(quoted, " ") + ` --pid "$$" -- ` + shellQuote(s.Name) + ` "$__taskctl_rc"` + "\n")
	b.WriteString("\texit \"$__taskctl_rc\"\n")
	b.WriteString("}\n")
	b.WriteString("trap " + exitHook + " EXIT\n")
	b.WriteString(s.Command)
	b.WriteString("\n")
	return b.String()
}

// BuildCommand constructs the *exec.Cmd that runs Script under the resolved shell.
// It does not configure stdio or process attributes.
func (s Spec) BuildCommand() (*exec.Cmd, error) {
	if strings.TrimSpace(s.Command) == "" {
		return nil, ErrEmptyCommand
	}
	sh, err := resolveShell(s.Shell)
	if err != nil {
		return nil, err
	}
	// #nosec G204
	cmd := exec.Command(sh, "-c", s.Script())
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	return cmd, nil
}

// shellQuote wraps s in single quotes so the shell passes it through verbatim.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
