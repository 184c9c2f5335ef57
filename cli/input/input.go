/*
Package input reads interactive user input.
*/
package input

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"golang.org/x/term"
)

// ErrNotTerminal is returned when input is requested, but stdin is not a
// terminal.
var ErrNotTerminal = errors.New("stdin is not a terminal")

// IsTerminal tells whether stdin is an interactive terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// ReadLine prompts user for a line of text. Leading and trailing spaces are
// removed.
func ReadLine(prompt string) (string, error) {
	if !IsTerminal() {
		return "", ErrNotTerminal
	}
	l, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		InterruptPrompt: "^C",
	})
	if err != nil {
		return "", fmt.Errorf("failed to create readline instance: %w", err)
	}
	defer l.Close()
	line, err := l.Readline()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
