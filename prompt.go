package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// stdinIsTerminal is a test seam for interactive-input detection.
var stdinIsTerminal = func() bool { return isTerminal(os.Stdin) }

// promptLine writes label to stderr and reads one line from the input.
func (cc *CLIContext) promptLine(label string) (string, error) {
	fmt.Fprint(cc.ErrOut, label)

	line, err := cc.reader().ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading %s: %w", strings.TrimSuffix(strings.TrimSpace(label), ":"), err)
	}

	return strings.TrimSpace(line), nil
}

// promptPassword reads a secret without echo when stdin is a terminal, or
// one line from stdin otherwise so passwords can be piped in.
func (cc *CLIContext) promptPassword(label string) (string, error) {
	if !stdinIsTerminal() {
		line, err := cc.reader().ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", fmt.Errorf("reading password from stdin: %w", err)
		}

		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(cc.ErrOut, label)

	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(cc.ErrOut)

	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	return string(pw), nil
}

// reader wraps the input once so buffered bytes survive across prompts.
func (cc *CLIContext) reader() *bufio.Reader {
	if br, ok := cc.In.(*bufio.Reader); ok {
		return br
	}

	br := bufio.NewReader(cc.In)
	cc.In = br

	return br
}
