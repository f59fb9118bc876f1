package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fossas/broker/internal/secret"
)

func TestNewRemoteRejectsEmpty(t *testing.T) {
	_, err := NewRemote("")
	assert.ErrorIs(t, err, ErrRemoteEmpty)

	r, err := NewRemote("git@github.com:fossas/broker.git")
	require.NoError(t, err)
	assert.Equal(t, Remote("git@github.com:fossas/broker.git"), r)
}

func TestValidateAuthMatchesScheme(t *testing.T) {
	assert.NoError(t, ValidateAuth(SchemeSSH, SSHKeyFile{Path: "/id_ed25519"}))
	assert.NoError(t, ValidateAuth(SchemeHTTP, HTTPNone{}))
	assert.NoError(t, ValidateAuth(SchemeHTTP, HTTPBasic{Username: "x", Password: secret.NewString("y")}))

	assert.ErrorIs(t, ValidateAuth(SchemeSSH, HTTPNone{}), ErrSchemeMismatch)
	assert.ErrorIs(t, ValidateAuth(SchemeHTTP, SSHKeyFile{Path: "/id"}), ErrSchemeMismatch)
}

func TestReferenceDerivedFields(t *testing.T) {
	ref := Reference{Kind: KindBranch, Name: "main", Commit: "abc123"}
	assert.Equal(t, "branch main", ref.DisplayName())
	assert.Equal(t, []byte("abc123"), ref.StateBytes())
	assert.Equal(t, "branch:main@abc123", ref.Coordinate())
	assert.True(t, ref.IsBranch())

	tag := Reference{Kind: KindTag, Name: "v1.0.0", Commit: "def456"}
	assert.False(t, tag.IsBranch())
	assert.Equal(t, "tag:v1.0.0@def456", tag.Coordinate())
}

func TestParseLsRemoteFiltersAndDeduplicates(t *testing.T) {
	out := []byte(
		"aaa1\trefs/heads/main\n" +
			"bbb2\trefs/heads/feature/x\n" +
			"ccc3\trefs/tags/v1.0.0\n" +
			"ddd4\trefs/tags/v1.0.0^{}\n" +
			"eee5\trefs/pull/1/head\n", // not a branch or tag — dropped
	)

	refs, err := parseLsRemote(out)
	require.NoError(t, err)
	require.Len(t, refs, 3)

	byCoord := make(map[string]Reference)
	for _, r := range refs {
		byCoord[r.Coordinate()] = r
	}

	assert.Contains(t, byCoord, "branch:main@aaa1")
	assert.Contains(t, byCoord, "branch:feature/x@bbb2")
	// The peeled ref's commit (the tag's target commit) wins over the tag
	// object's own sha.
	assert.Contains(t, byCoord, "tag:v1.0.0@ddd4")
}

func TestParseLsRemoteRoundTripsThroughRender(t *testing.T) {
	original := []byte(
		"aaa1\trefs/heads/main\n" +
			"bbb2\trefs/tags/v2.0.0\n",
	)
	refs, err := parseLsRemote(original)
	require.NoError(t, err)

	rendered := RenderLsRemote(refs)
	reparsed, err := parseLsRemote([]byte(rendered))
	require.NoError(t, err)

	assert.ElementsMatch(t, refs, reparsed)
}

func TestCloneReferenceRejectsNonHTTPEndpointOnHTTPScheme(t *testing.T) {
	remote, err := NewRemote("git@github.com:fossas/broker.git")
	require.NoError(t, err)

	tr, err := New(Config{
		Remote: remote,
		Scheme: SchemeHTTP,
		Auth:   HTTPNone{},
	})
	if err != nil {
		t.Skip("git binary not present in this environment")
	}

	_, err = tr.CloneReference(t.Context(), Reference{Kind: KindBranch, Name: "main"})
	assert.ErrorIs(t, err, ErrHTTPRemoteInvalid)
}

func TestCommandDescriptionRenderNeverLeaksEnvValues(t *testing.T) {
	desc := Description{
		Name:    "git",
		Args:    []string{"clone", "https://example.com/repo.git"},
		EnvKeys: []string{"GIT_TERMINAL_PROMPT", "GIT_SSH_COMMAND"},
	}.WithOutput("", "fatal: authentication failed", 128)

	rendered := desc.Render()
	assert.Contains(t, rendered, "GIT_TERMINAL_PROMPT=<REMOVED>")
	assert.Contains(t, rendered, "GIT_SSH_COMMAND=<REMOVED>")
	assert.Contains(t, rendered, "status: 128")
	assert.Contains(t, rendered, "authentication failed")
}

func TestRedactArgsRedactsExtraHeader(t *testing.T) {
	args := []string{"-c", "http.extraHeader=Authorization: Basic c2VjcmV0", "ls-remote"}
	redacted := redactArgs(args)
	assert.Equal(t, "http.extraHeader=<REMOVED>", redacted[1])
	assert.NotContains(t, redacted[1], "c2VjcmV0")
}

func TestCommandErrorRendersWithoutEnvValues(t *testing.T) {
	cerr := &CommandError{
		Name:      "git",
		Args:      []string{"ls-remote", "origin"},
		EnvKeys:   []string{"GIT_TERMINAL_PROMPT"},
		ExitError: assertError("exit status 128"),
		Stderr:    "fatal: could not read from remote",
	}
	msg := cerr.Error()
	assert.Contains(t, msg, `"git"`)
	assert.Contains(t, msg, "env: GIT_TERMINAL_PROMPT")
	assert.Contains(t, msg, "could not read from remote")
	assert.NotContains(t, msg, "hunter2")
}

type assertError string

func (e assertError) Error() string { return string(e) }
