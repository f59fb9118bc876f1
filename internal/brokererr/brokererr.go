// Package brokererr defines the error categories the broker distinguishes
// by intent and a uniform way to render an error chain for
// end users: a colored "help:"/"context:" trail with an optional
// "support:" prompt for defects nobody anticipated.
package brokererr

import (
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Kind identifies which of the broker's error categories an Error belongs
// to. Workers use this to decide whether to retry, warn-and-continue, or
// treat the error as fatal.
type Kind int

const (
	// KindTransient covers network blips and subprocess noise. Retried
	// within the bounds of internal/retry's policy; surfaced as warnings.
	KindTransient Kind = iota
	// KindConfigurationInvalid is fatal at load time.
	KindConfigurationInvalid
	// KindPreflightFailed is fatal at startup, with guidance pointing at
	// the diagnostic subcommand.
	KindPreflightFailed
	// KindAgentOutdated is fatal at startup (stored semver > running).
	KindAgentOutdated
	// KindAnalyzerInvocationFailed drops the job, warns, and continues.
	KindAnalyzerInvocationFailed
	// KindUploadFailed drops the job, warns, and continues; state is not
	// advanced.
	KindUploadFailed
	// KindHealthcheck is fatal; the supervisor exits.
	KindHealthcheck
	// KindAlreadyRunning is fatal at startup: another broker process already
	// holds the data-root's process lock.
	KindAlreadyRunning
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindConfigurationInvalid:
		return "configuration invalid"
	case KindPreflightFailed:
		return "preflight failed"
	case KindAgentOutdated:
		return "agent outdated"
	case KindAnalyzerInvocationFailed:
		return "analyzer invocation failed"
	case KindUploadFailed:
		return "upload failed"
	case KindHealthcheck:
		return "healthcheck"
	case KindAlreadyRunning:
		return "already running"
	default:
		return "unknown"
	}
}

// Fatal reports whether errors of this kind should terminate the process
// when they surface from a supervisor-level task, rather than be logged
// as a warning by a per-job worker.
func (k Kind) Fatal() bool {
	switch k {
	case KindConfigurationInvalid, KindPreflightFailed, KindAgentOutdated, KindHealthcheck, KindAlreadyRunning:
		return true
	default:
		return false
	}
}

// Error is a structured broker error: an operation name, a category, an
// optional wrapped cause, and a human-facing help string attached at the
// layer that had enough context to suggest a fix.
type Error struct {
	Op    string
	Kind  Kind
	Cause error
	Help  string
}

// New constructs an Error. help may be empty.
func New(op string, kind Kind, cause error, help string) *Error {
	return &Error{Op: op, Kind: kind, Cause: cause, Help: help}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Cause)
	}
	return e.Op
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is supports errors.Is(err, &brokererr.Error{Kind: ...}) style comparisons
// by matching on Kind when the target is itself an *Error with no cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) && t.Cause == nil {
		return e.Kind == t.Kind
	}
	return false
}

// KindOf walks the chain looking for the first *Error and returns its
// Kind. Returns KindTransient, false if no *Error is present.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return KindTransient, false
}

// Render prints the full help:/context:/support: chain for a fatal error
// to w, color-coded when color is true. Each layer's Help (if any) is
// printed once as a "help:" line, and every layer's Op is printed as a
// "context:" line innermost-last. A defect with no Error in its chain at
// all gets a "support:" prompt, since it was not one of the categories
// the broker anticipated.
func Render(w io.Writer, err error, useColor bool) {
	helpColor := color.New(color.FgCyan, color.Bold)
	ctxColor := color.New(color.FgYellow)
	supportColor := color.New(color.FgRed, color.Bold)
	helpColor.EnableColor()
	ctxColor.EnableColor()
	supportColor.EnableColor()
	if !useColor {
		helpColor.DisableColor()
		ctxColor.DisableColor()
		supportColor.DisableColor()
	}

	sawError := false
	cur := err
	var ctxLines []string
	for cur != nil {
		var e *Error
		if errors.As(cur, &e) {
			sawError = true
			if e.Help != "" {
				fmt.Fprintln(w, helpColor.Sprintf("help: %s", e.Help))
			}
			ctxLines = append(ctxLines, e.Op)
			cur = e.Cause
			continue
		}
		ctxLines = append(ctxLines, cur.Error())
		break
	}

	for _, line := range ctxLines {
		fmt.Fprintln(w, ctxColor.Sprintf("context: %s", line))
	}

	if !sawError {
		fmt.Fprintln(w, supportColor.Sprint("support: this looks like a bug — please file a report with the trace log attached"))
	}
}
