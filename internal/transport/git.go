// Package transport wraps the system git binary to list and fetch remote
// references without ever handing a credential to git's own credential
// store. It is the only package permitted to exec "git".
package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/fossas/broker/internal/secret"
)

// Config configures a GitTransport.
type Config struct {
	Remote Remote
	Scheme Scheme
	Auth   Auth
}

// Transport is the abstract per-remote operation surface the pipeline
// depends on: list the remote's current references, and clone
// a single reference into a working tree. GitTransport is the sole
// implementation.
type Transport interface {
	ListReferences(ctx context.Context) ([]Reference, error)
	CloneReference(ctx context.Context, ref Reference) (*WorkingTree, error)
}

// GitTransport invokes the system git binary on behalf of one configured
// remote. Every invocation defeats git's own credential helpers and prompts
// so the only credential that can reach the remote is the one this package
// supplies explicitly.
type GitTransport struct {
	gitPath string
	cfg     Config
}

var _ Transport = (*GitTransport)(nil)

// New locates the git binary on PATH and validates that cfg.Auth matches
// cfg.Scheme.
func New(cfg Config) (*GitTransport, error) {
	if err := ValidateAuth(cfg.Scheme, cfg.Auth); err != nil {
		return nil, err
	}
	gitPath, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("transport: git binary not found on PATH: %w", err)
	}
	return &GitTransport{gitPath: gitPath, cfg: cfg}, nil
}

// WorkingTree is a cloned checkout of a single reference. Callers must call
// Close to remove the temp directory once the scan of it is finished.
type WorkingTree struct {
	Dir string
}

// Close removes the working tree's temp directory.
func (w *WorkingTree) Close() error {
	if w == nil || w.Dir == "" {
		return nil
	}
	return os.RemoveAll(w.Dir)
}

// ListReferences runs "git ls-remote" against the configured remote and
// returns the deduplicated set of branch and tag references.
func (t *GitTransport) ListReferences(ctx context.Context) ([]Reference, error) {
	args := []string{"ls-remote", "--heads", "--tags", string(t.cfg.Remote)}
	out, err := t.run(ctx, args, nil)
	if err != nil {
		return nil, err
	}
	return parseLsRemote(out)
}

// CloneReference clones a single named reference into a fresh temp
// directory with a blobless partial clone (--filter=blob:none): commits and
// trees are fetched in full, file contents only for the checked-out
// revision, which is enough to run an analyzer against the working tree
// without pulling blob history the broker never reads.
func (t *GitTransport) CloneReference(ctx context.Context, ref Reference) (*WorkingTree, error) {
	if t.cfg.Scheme == SchemeHTTP && !strings.HasPrefix(string(t.cfg.Remote), "http") {
		return nil, ErrHTTPRemoteInvalid
	}

	dir, err := os.MkdirTemp("", "broker-clone-*")
	if err != nil {
		return nil, fmt.Errorf("transport: failed to create clone dir: %w", err)
	}
	wt := &WorkingTree{Dir: dir}

	args := []string{
		"clone",
		"--filter=blob:none",
		"--branch=" + ref.Name,
		string(t.cfg.Remote),
		dir,
	}
	if _, err := t.run(ctx, args, nil); err != nil {
		wt.Close()
		return nil, err
	}
	return wt, nil
}

// run builds and executes one git invocation with credential isolation
// applied, capturing stdout and stderr separately. It returns stdout on
// success and a *CommandError carrying both streams on failure. Any temp
// key file written by isolate is removed once the subprocess has exited.
func (t *GitTransport) run(ctx context.Context, args []string, extraEnv []string) ([]byte, error) {
	baseArgs, env, envKeys, cleanup, err := t.isolate(args)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	env = append(env, extraEnv...)

	cmd := exec.CommandContext(ctx, t.gitPath, baseArgs...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Env = removeEnv(cmd.Env, "GIT_ASKPASS")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, &CommandError{
			Name:      "git",
			Args:      redactArgs(baseArgs),
			EnvKeys:   envKeys,
			ExitError: err,
			Stdout:    stdout.String(),
			Stderr:    stderr.String(),
		}
	}
	return stdout.Bytes(), nil
}

// isolate prepends the credential-defeating -c flags to args and returns
// the auth-specific env additions, plus the names (never values) of any
// env vars that were set — for CommandError's redacted rendering — and a
// cleanup func that removes any temp key file it wrote.
func (t *GitTransport) isolate(args []string) (fullArgs []string, env []string, envKeys []string, cleanup func(), err error) {
	isolation := []string{
		"-c", "credential.helper=",
	}
	cleanup = func() {}

	switch a := t.cfg.Auth.(type) {
	case SSHKeyFile:
		env = append(env, "GIT_SSH_COMMAND="+sshCommand(a.Path))
		envKeys = append(envKeys, "GIT_SSH_COMMAND")

	case SSHKeyValue:
		keyPath, werr := writeTempKey(a.Key)
		if werr != nil {
			return nil, nil, nil, nil, werr
		}
		cleanup = func() { os.Remove(keyPath) }
		env = append(env, "GIT_SSH_COMMAND="+sshCommand(keyPath))
		envKeys = append(envKeys, "GIT_SSH_COMMAND")

	case HTTPNone:
		// No credential is supplied; http.extraHeader is omitted entirely.

	case HTTPHeader:
		isolation = append(isolation, "-c", "http.extraHeader="+a.Header.ExposeString())

	case HTTPBasic:
		token := base64.StdEncoding.EncodeToString(
			[]byte(a.Username + ":" + a.Password.ExposeString()),
		)
		isolation = append(isolation, "-c", "http.extraHeader=AUTHORIZATION: Basic "+token)

	default:
		return nil, nil, nil, nil, fmt.Errorf("transport: unsupported auth type %T", a)
	}

	env = append(env,
		"GIT_TERMINAL_PROMPT=0",
		"GCM_INTERACTIVE=never",
	)
	envKeys = append(envKeys, "GIT_TERMINAL_PROMPT", "GCM_INTERACTIVE")

	fullArgs = append(isolation, args...)
	return fullArgs, env, envKeys, cleanup, nil
}

// sshCommand builds a GIT_SSH_COMMAND value that pins the identity file and
// disables host-key prompting the same way GIT_TERMINAL_PROMPT=0 does for
// HTTP: non-interactively, so a hung agent never blocks on a TTY prompt.
func sshCommand(identityFile string) string {
	return fmt.Sprintf(
		"ssh -i %s -o IdentitiesOnly=yes -o StrictHostKeyChecking=no -F /dev/null",
		identityFile,
	)
}

// writeTempKey writes an in-memory private key to a mode-0600 temp file so
// ssh can consume it via -i. The file is not removed by this function;
// run removes it once the git subprocess has exited.
func writeTempKey(key secret.Value) (string, error) {
	f, err := os.CreateTemp("", "broker-sshkey-*")
	if err != nil {
		return "", fmt.Errorf("transport: failed to create temp key file: %w", err)
	}
	defer f.Close()
	if err := f.Chmod(0o600); err != nil {
		return "", fmt.Errorf("transport: failed to chmod temp key file: %w", err)
	}
	if _, err := f.Write(key.Expose()); err != nil {
		return "", fmt.Errorf("transport: failed to write temp key file: %w", err)
	}
	return f.Name(), nil
}

// redactArgs replaces the value following any "-c" whose key contains
// "extraHeader" with a redaction literal, so Authorization headers built by
// isolate never reach a log or error message.
func redactArgs(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	for i, a := range out {
		if strings.Contains(a, "extraHeader=") {
			out[i] = "http.extraHeader=<REMOVED>"
		}
	}
	return out
}

func removeEnv(env []string, key string) []string {
	prefix := key + "="
	out := env[:0:0]
	for _, e := range env {
		if !strings.HasPrefix(e, prefix) {
			out = append(out, e)
		}
	}
	return out
}

// parseLsRemote parses the output of "git ls-remote --heads --tags",
// lines of the form "<sha>\t<refspec>". Peeled tag refs ("refs/tags/x^{}")
// are collapsed into their base tag entry since they report the same
// commit the base ref's tag object points to once dereferenced, and the
// broker only needs one Reference per tag name.
func parseLsRemote(out []byte) ([]Reference, error) {
	seen := make(map[string]Reference)
	order := make([]string, 0)

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 2)
		if len(fields) != 2 {
			continue
		}
		commit, refspec := fields[0], fields[1]

		var kind Kind
		var name string
		switch {
		case strings.HasPrefix(refspec, "refs/heads/"):
			kind = KindBranch
			name = strings.TrimPrefix(refspec, "refs/heads/")
		case strings.HasPrefix(refspec, "refs/tags/"):
			kind = KindTag
			name = strings.TrimPrefix(refspec, "refs/tags/")
			name = strings.TrimSuffix(name, "^{}")
		default:
			continue
		}

		key := kind.String() + ":" + name
		if _, ok := seen[key]; !ok {
			order = append(order, key)
		}
		// A peeled ref ("^{}") always overwrites the lightweight tag object
		// entry for the same name, since it is the commit the tag resolves
		// to rather than the tag object's own (irrelevant) sha.
		if strings.HasSuffix(refspec, "^{}") || seen[key].Commit == "" {
			seen[key] = Reference{Kind: kind, Name: name, Commit: commit}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("transport: failed to parse ls-remote output: %w", err)
	}

	sort.Strings(order)
	refs := make([]Reference, 0, len(order))
	for _, k := range order {
		refs = append(refs, seen[k])
	}
	return refs, nil
}

// RenderLsRemote renders refs back into ls-remote line form, used by the
// round-trip test to confirm that re-parsing the rendered output yields the
// same (kind, name, commit) set as the first parse.
func RenderLsRemote(refs []Reference) string {
	var b strings.Builder
	for _, r := range refs {
		prefix := "refs/heads/"
		if r.Kind == KindTag {
			prefix = "refs/tags/"
		}
		fmt.Fprintf(&b, "%s\t%s%s\n", r.Commit, prefix, r.Name)
	}
	return b.String()
}
