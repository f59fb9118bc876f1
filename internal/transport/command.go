package transport

import (
	"fmt"
	"strconv"
	"strings"
)

// Description is the standardized rendering of a subprocess invocation,
// grounded on original_source's CommandDescription: a name, its args, and
// its env — but never the values of EnvKeys entries, since an invocation's
// environment may carry credentials. Callers that
// want a value on display (non-secret config, e.g. GIT_SSH_COMMAND) pass it
// through EnvPairs instead of EnvKeys.
type Description struct {
	Name    string
	Args    []string
	EnvKeys []string
	// EnvPairs holds env entries safe to render in full, already formatted
	// as "KEY=value". Kept separate from EnvKeys so a caller can't
	// accidentally pass a secret through the wrong field.
	EnvPairs []string
	Status   *int
	Stdout   *string
	Stderr   *string
}

// WithOutput enriches the description with a completed command's output
// and exit status, mirroring CommandDescription::with_output.
func (d Description) WithOutput(stdout, stderr string, status int) Description {
	d.Stdout = &stdout
	d.Stderr = &stderr
	d.Status = &status
	return d
}

// Render produces a pastable, multi-line description of the command: name,
// then args, then env (keys only, plus any explicitly-safe pairs), then
// status/stdout/stderr if present. No secret ever reaches this string.
func (d Description) Render() string {
	var b strings.Builder
	fmt.Fprintln(&b, d.Name)
	fmt.Fprintf(&b, "args: %s\n", displayList(d.Args))
	fmt.Fprintf(&b, "env: %s\n", displayList(d.displayEnvs()))
	if d.Status != nil {
		fmt.Fprintf(&b, "status: %s\n", strconv.Itoa(*d.Status))
	}
	if d.Stdout != nil {
		fmt.Fprintf(&b, "stdout: %q\n", strings.TrimSpace(*d.Stdout))
	}
	if d.Stderr != nil {
		fmt.Fprintf(&b, "stderr: %q\n", strings.TrimSpace(*d.Stderr))
	}
	return b.String()
}

func (d Description) String() string {
	return d.Render()
}

func (d Description) displayEnvs() []string {
	entries := make([]string, 0, len(d.EnvKeys)+len(d.EnvPairs))
	for _, k := range d.EnvKeys {
		entries = append(entries, k+"=<REMOVED>")
	}
	entries = append(entries, d.EnvPairs...)
	return entries
}

// displayList quotes and joins, preferred over %v for the same reason
// original_source avoids its Debug impl: it keeps Windows path separators
// from being doubled by a generic debug formatter.
func displayList(items []string) string {
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = strconv.Quote(it)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
