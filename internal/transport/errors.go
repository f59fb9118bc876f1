package transport

import (
	"errors"
	"fmt"
	"strings"
)

// ErrHTTPRemoteInvalid is returned by CloneReference when an http-scheme
// transport's endpoint does not begin with "http" — the underlying git
// binary would otherwise silently fall back to SSH.
var ErrHTTPRemoteInvalid = errors.New("transport: http remote endpoint must start with \"http\"")

// CommandError carries everything needed to diagnose a failed subprocess
// invocation without ever including a secret: the command name, its
// (already-redacted) argument list, the env var names that were set
// (values omitted), the exit status, and captured output.
type CommandError struct {
	Name      string
	Args      []string
	EnvKeys   []string
	ExitError error
	Stdout    string
	Stderr    string
}

func (e *CommandError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "transport: command %q failed: %v", e.Name, e.ExitError)
	if len(e.Args) > 0 {
		fmt.Fprintf(&b, "\nargs: %s", strings.Join(e.Args, " "))
	}
	if len(e.EnvKeys) > 0 {
		fmt.Fprintf(&b, "\nenv: %s", strings.Join(e.EnvKeys, ", "))
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		fmt.Fprintf(&b, "\nstderr: %s", s)
	}
	return b.String()
}

func (e *CommandError) Unwrap() error {
	return e.ExitError
}
