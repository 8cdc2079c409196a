// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package interact implements the prompting primitives spawn uses:
// free-text prompts, confirmations, and the option picker behind
// `spawn pick` and the per-provider size/region menus. All chrome
// goes to stderr; stdout carries only chosen values, so pickers can
// sit in a pipeline.
package interact

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
)

// ErrNonInteractive is returned when input is required but prompting
// is forbidden (SPAWN_NON_INTERACTIVE, headless mode, or no TTY).
const ErrNonInteractive = errors.ConstError("interactive input required but prompting is disabled")

// Option is one selectable entry.
type Option struct {
	Value string
	Label string
	Hint  string
}

// Interactor mediates all user interaction.
type Interactor struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// NonInteractive forbids prompting entirely.
	NonInteractive bool

	// terminal is the stream user selections are read from. When
	// Stdin is a pipe (e.g. piping options into `spawn pick`) the
	// controlling terminal is opened instead.
	terminal io.Reader
}

// New returns an Interactor wired to the process streams.
func New(nonInteractive bool) *Interactor {
	return &Interactor{
		Stdin:          os.Stdin,
		Stdout:         os.Stdout,
		Stderr:         os.Stderr,
		NonInteractive: nonInteractive,
	}
}

func (i *Interactor) selectionReader() (io.Reader, error) {
	if i.terminal != nil {
		return i.terminal, nil
	}
	if f, ok := i.Stdin.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		i.terminal = bufio.NewReader(i.Stdin)
		return i.terminal, nil
	}
	tty, err := os.Open("/dev/tty")
	if err != nil {
		return nil, ErrNonInteractive
	}
	i.terminal = bufio.NewReader(tty)
	return i.terminal, nil
}

func readLine(r io.Reader) (string, error) {
	if br, ok := r.(*bufio.Reader); ok {
		line, err := br.ReadString('\n')
		if err != nil && line == "" {
			return "", errors.Trace(err)
		}
		return strings.TrimSpace(line), nil
	}
	br := bufio.NewReader(r)
	line, err := br.ReadString('\n')
	if err != nil && line == "" {
		return "", errors.Trace(err)
	}
	return strings.TrimSpace(line), nil
}

// ReadLine prompts for one line of free text.
func (i *Interactor) ReadLine(prompt string) (string, error) {
	if i.NonInteractive {
		return "", ErrNonInteractive
	}
	r, err := i.selectionReader()
	if err != nil {
		return "", errors.Trace(err)
	}
	fmt.Fprintf(i.Stderr, "%s ", prompt)
	return readLine(r)
}

// Confirm prompts for a yes/no answer with a default.
func (i *Interactor) Confirm(prompt string, def bool) (bool, error) {
	if i.NonInteractive {
		return def, nil
	}
	hint := "[Y/n]"
	if !def {
		hint = "[y/N]"
	}
	answer, err := i.ReadLine(prompt + " " + hint)
	if err != nil {
		return false, errors.Trace(err)
	}
	switch strings.ToLower(answer) {
	case "":
		return def, nil
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// Pick presents options and returns the chosen value. With prompting
// disabled (or no usable terminal) the default wins; no default and
// no terminal is an error.
func (i *Interactor) Pick(prompt string, options []Option, def string) (string, error) {
	if len(options) == 0 {
		return "", errors.NotValidf("empty option list")
	}
	if i.NonInteractive {
		return i.fallback(def)
	}
	r, err := i.selectionReader()
	if err != nil {
		return i.fallback(def)
	}

	fmt.Fprintf(i.Stderr, "%s\n", prompt)
	for n, opt := range options {
		line := fmt.Sprintf("  %2d) %s", n+1, opt.Label)
		if opt.Hint != "" {
			line += "  (" + opt.Hint + ")"
		}
		if opt.Value == def {
			line += " [default]"
		}
		fmt.Fprintln(i.Stderr, line)
	}
	for {
		fmt.Fprintf(i.Stderr, "Choose [1-%d]: ", len(options))
		answer, err := readLine(r)
		if err != nil {
			return i.fallback(def)
		}
		if answer == "" {
			if def != "" {
				return def, nil
			}
			continue
		}
		n, err := strconv.Atoi(answer)
		if err == nil && n >= 1 && n <= len(options) {
			return options[n-1].Value, nil
		}
		fmt.Fprintln(i.Stderr, "Invalid selection.")
	}
}

func (i *Interactor) fallback(def string) (string, error) {
	if def != "" {
		return def, nil
	}
	return "", ErrNonInteractive
}

// ParseTSV reads value<TAB>label<TAB>hint option lines. Label and
// hint are optional; blank lines are skipped.
func ParseTSV(r io.Reader) ([]Option, error) {
	var options []Option
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		opt := Option{Value: parts[0]}
		opt.Label = opt.Value
		if len(parts) > 1 && parts[1] != "" {
			opt.Label = parts[1]
		}
		if len(parts) > 2 {
			opt.Hint = parts[2]
		}
		options = append(options, opt)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	return options, nil
}
