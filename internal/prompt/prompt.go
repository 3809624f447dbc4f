// Package prompt asks the user to pick a task or confirm an action.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

var (
	ErrInvalidSelection = errors.New("invalid selection")
	ErrNotInteractive   = errors.New("input is not a terminal")
)

// Prompter is the interactive surface of the CLI.
type Prompter interface {
	// Select shows a numbered list and returns the chosen index.
	Select(title string, options []string) (int, error)
	// Confirm asks a yes/no question; anything but y or yes is no.
	Confirm(question string) (bool, error)
}

// Terminal prompts on a line-oriented reader and writer.
type Terminal struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
}

var _ Prompter = (*Terminal)(nil)

// New returns a Terminal over in/out. When interactive is false every prompt
// fails with ErrNotInteractive instead of blocking on input.
func New(in io.Reader, out io.Writer, interactive bool) *Terminal {
	return &Terminal{in: bufio.NewReader(in), out: out, interactive: interactive}
}

// NewTerminal prompts on in, which counts as interactive only if it is a TTY.
func NewTerminal(in *os.File, out io.Writer) *Terminal {
	return New(in, out, term.IsTerminal(int(in.Fd())))
}

func (t *Terminal) Select(title string, options []string) (int, error) {
	if !t.interactive {
		return 0, ErrNotInteractive
	}
	if len(options) == 0 {
		return 0, ErrInvalidSelection
	}
	_, _ = fmt.Fprintln(t.out, title)
	for i, o := range options {
		_, _ = fmt.Fprintf(t.out, "%d. %s\n", i+1, o)
	}
	_, _ = fmt.Fprint(t.out, "Enter number: ")
	line, err := t.readLine()
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(line)
	if err != nil || n < 1 || n > len(options) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSelection, line)
	}
	return n - 1, nil
}

func (t *Terminal) Confirm(question string) (bool, error) {
	if !t.interactive {
		return false, ErrNotInteractive
	}
	_, _ = fmt.Fprintf(t.out, "%s (y/N): ", question)
	line, err := t.readLine()
	if err != nil {
		return false, err
	}
	switch strings.ToLower(line) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func (t *Terminal) readLine() (string, error) {
	line, err := t.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("%w: no input", ErrInvalidSelection)
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}
