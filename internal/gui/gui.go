// Package gui defines the blocking prompt surface used for credential and
// playback questions. Core code never talks to a terminal directly; it gets a
// Prompter injected so GUI frontends can supply their own dialogs.
package gui

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Prompter is the user-interaction boundary. All calls block until the user
// answers. Implementations must return "" (or false) when the user cancels.
type Prompter interface {
	// Input asks for a free-form string. hidden marks password-style input.
	Input(message string, hidden bool) string
	// Numeric asks for a digits-only string (PIN entry).
	Numeric(message string) string
	// YesNo asks a yes/no question under the given heading.
	YesNo(message, heading string) bool
	// OK shows a message the user must acknowledge.
	OK(message, heading string)
}

// Terminal prompts on stdin/stdout. Hidden input is not masked; this runs
// headless far more often than interactively.
type Terminal struct {
	In  io.Reader
	Out io.Writer
}

func NewTerminal() *Terminal {
	return &Terminal{In: os.Stdin, Out: os.Stdout}
}

func (t *Terminal) Input(message string, hidden bool) string {
	fmt.Fprintf(t.Out, "%s: ", message)
	return t.readLine()
}

func (t *Terminal) Numeric(message string) string {
	fmt.Fprintf(t.Out, "%s (digits): ", message)
	s := t.readLine()
	for _, r := range s {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return s
}

func (t *Terminal) YesNo(message, heading string) bool {
	if heading != "" {
		fmt.Fprintf(t.Out, "[%s] ", heading)
	}
	fmt.Fprintf(t.Out, "%s [y/N]: ", message)
	s := strings.ToLower(t.readLine())
	return s == "y" || s == "yes"
}

func (t *Terminal) OK(message, heading string) {
	if heading != "" {
		fmt.Fprintf(t.Out, "[%s] ", heading)
	}
	fmt.Fprintln(t.Out, message)
}

func (t *Terminal) readLine() string {
	sc := bufio.NewScanner(t.In)
	if !sc.Scan() {
		return ""
	}
	return strings.TrimSpace(sc.Text())
}

// None answers every prompt with its zero value. Used when running
// non-interactively (sweep, cron refresh) so nothing blocks forever.
type None struct{}

func (None) Input(string, bool) string { return "" }
func (None) Numeric(string) string     { return "" }
func (None) YesNo(string, string) bool { return false }
func (None) OK(string, string)         {}
