package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/forest6511/cyfer/pkg/bridge"
	"github.com/forest6511/cyfer/pkg/session"
)

// Status formatters
var (
	successText = color.New(color.FgGreen)
	errorText   = color.New(color.FgRed)
	warningText = color.New(color.FgYellow)
	mutedText   = color.New(color.FgHiBlack)
	nameText    = color.New(color.FgCyan)
)

func printSuccess(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", successText.Sprint("✓"), fmt.Sprintf(format, args...))
}

func printWarning(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", warningText.Sprint("⚠"), fmt.Sprintf(format, args...))
}

func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "%s %s\n", errorText.Sprint("✗"), describeError(err))
}

// describeError turns a session failure into one line for the terminal.
func describeError(err error) string {
	var se *session.Error
	if !errors.As(err, &se) {
		return err.Error()
	}
	switch se.Kind {
	case session.KindInvalidCredential:
		return "Incorrect master password"
	case session.KindBusy:
		return "Another operation is still running; try again"
	case session.KindValidation:
		return se.Message
	case session.KindBackend:
		switch se.Code {
		case bridge.CodeNotFound:
			return "Not found: " + se.Message
		case bridge.CodeExists:
			return "Already exists: " + se.Message
		case bridge.CodeUnauthorized:
			return "Access denied: " + se.Message
		case bridge.CodeTransport:
			return "Engine unreachable: " + se.Message
		}
		return "Engine error: " + se.Message
	}
	return se.Error()
}

// startSpinner shows message on stderr while a bridge call runs. Nothing is
// drawn when stderr is not a terminal or logs are verbose.
func startSpinner(message string) (stop func()) {
	if verbosity > 0 || !term.IsTerminal(int(os.Stderr.Fd())) {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + message
	// Ignore color errors - continue without colored spinner if it fails.
	_ = s.Color("cyan")
	s.Start()
	return s.Stop
}

// step runs fn behind a spinner.
func step(message string, fn func() error) error {
	stop := startSpinner(message)
	defer stop()
	return fn()
}
