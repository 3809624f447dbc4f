package prompt

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelect(t *testing.T) {
	var out bytes.Buffer
	p := New(strings.NewReader("2\n"), &out, true)
	i, err := p.Select("Pick a task:", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, 1, i)
	assert.Equal(t, "Pick a task:\n1. a\n2. b\n3. c\nEnter number: ", out.String())
}

func TestSelectInvalid(t *testing.T) {
	for _, in := range []string{"0\n", "4\n", "x\n", ""} {
		p := New(strings.NewReader(in), &bytes.Buffer{}, true)
		_, err := p.Select("t", []string{"a", "b", "c"})
		assert.ErrorIs(t, err, ErrInvalidSelection, "input %q", in)
	}
	_, err := New(strings.NewReader("1\n"), &bytes.Buffer{}, true).Select("t", nil)
	assert.ErrorIs(t, err, ErrInvalidSelection)
}

func TestSelectWithoutTrailingNewline(t *testing.T) {
	p := New(strings.NewReader(" 1 "), &bytes.Buffer{}, true)
	i, err := p.Select("t", []string{"only"})
	require.NoError(t, err)
	assert.Equal(t, 0, i)
}

func TestConfirm(t *testing.T) {
	cases := map[string]bool{"y\n": true, "YES\n": true, "n\n": false, "\n": false, "sure\n": false}
	for in, want := range cases {
		var out bytes.Buffer
		ok, err := New(strings.NewReader(in), &out, true).Confirm("Clear everything?")
		require.NoError(t, err)
		assert.Equal(t, want, ok, "input %q", in)
		assert.Equal(t, "Clear everything? (y/N): ", out.String())
	}
}

func TestNotInteractive(t *testing.T) {
	p := New(strings.NewReader("1\ny\n"), &bytes.Buffer{}, false)
	_, err := p.Select("t", []string{"a"})
	assert.ErrorIs(t, err, ErrNotInteractive)
	_, err = p.Confirm("q")
	assert.ErrorIs(t, err, ErrNotInteractive)
}

func TestNewTerminalDetectsPipe(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer func() { _ = r.Close(); _ = w.Close() }()
	p := NewTerminal(r, &bytes.Buffer{})
	assert.False(t, p.interactive)
}
