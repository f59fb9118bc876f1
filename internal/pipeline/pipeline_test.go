package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fossas/broker/internal/analyzer"
	"github.com/fossas/broker/internal/config"
	"github.com/fossas/broker/internal/secret"
	"github.com/fossas/broker/internal/store"
	"github.com/fossas/broker/internal/transport"
	"github.com/fossas/broker/internal/upload"
)

// fakeTransport serves a fixed, mutable set of references without ever
// shelling out to git, so pipeline tests exercise only the pipeline's own
// coordination logic.
type fakeTransport struct {
	mu   sync.Mutex
	refs []transport.Reference
}

func (f *fakeTransport) setRefs(refs []transport.Reference) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs = refs
}

func (f *fakeTransport) ListReferences(ctx context.Context) ([]transport.Reference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]transport.Reference, len(f.refs))
	copy(out, f.refs)
	return out, nil
}

func (f *fakeTransport) CloneReference(ctx context.Context, ref transport.Reference) (*transport.WorkingTree, error) {
	dir, err := os.MkdirTemp("", "pipeline-test-tree")
	if err != nil {
		return nil, err
	}
	return &transport.WorkingTree{Dir: dir}, nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db.sqlite")
	st, err := store.Open(store.Config{Path: path, Logger: zap.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func fakeAnalyzerServer(t *testing.T) *upload.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/cli/organization":
			json.NewEncoder(w).Encode(map[string]any{"organization_id": 1})
		case "/api/builds/custom":
			json.NewEncoder(w).Encode(map[string]any{"upload_locator": "custom+1/p$c"})
		}
	}))
	t.Cleanup(srv.Close)
	return upload.New(upload.Config{Endpoint: srv.URL, Key: secret.NewString("k"), AgentName: "broker", AgentVersion: "1.0.0", HTTPClient: srv.Client()})
}

func fakeAnalyzerManager(t *testing.T) *analyzer.Manager {
	t.Helper()
	script := filepath.Join(t.TempDir(), "fake-analyzer.sh")
	require.NoError(t, os.WriteFile(script, []byte(
		"#!/bin/sh\nif [ \"$1\" = \"--version\" ]; then echo 1.0.0; else echo '{\"sourceUnits\": {\"name\": \"demo\"}}'; fi\n",
	), 0o755))

	dataRoot := filepath.Dir(script)
	binPath := filepath.Join(dataRoot, "fake")
	require.NoError(t, os.Rename(script, binPath))

	return analyzer.New(analyzer.Config{DataRoot: dataRoot, BinaryName: "fake", Logger: zap.NewNop()})
}

func testIntegration() config.Integration {
	return config.Integration{
		Kind:           "git",
		PollInterval:   config.Duration{Duration: 20 * time.Millisecond},
		Remote:         "https://example.com/repo.git",
		Scheme:         transport.SchemeHTTP,
		Auth:           transport.HTTPNone{},
		ImportBranches: config.ImportMode{Enabled: true},
		ImportTags:     config.ImportMode{Enabled: true},
	}
}

func TestPipelinePersistsStateAfterFirstScan(t *testing.T) {
	st := newTestStore(t)
	ft := &fakeTransport{}
	ft.setRefs([]transport.Reference{{Kind: transport.KindBranch, Name: "main", Commit: "abc123"}})

	ctx, cancel := context.WithTimeout(context.Background(), 800*time.Millisecond)
	defer cancel()

	pipe, err := New(ctx, testIntegration(), Deps{
		Transport: ft,
		State:     st,
		Analyzer:  fakeAnalyzerManager(t),
		Uploader:  fakeAnalyzerServer(t),
		Logger:    zap.NewNop(),
		DataRoot:  t.TempDir(),
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() { pipe.Run(ctx); close(done) }()

	require.Eventually(t, func() bool {
		_, ok, _ := st.State(context.Background(), store.Coordinate{
			IntegrationKind: "git",
			RemoteID:        "https://example.com/repo.git",
			ReferenceID:     "branch:main@abc123",
		})
		return ok
	}, 700*time.Millisecond, 10*time.Millisecond)

	state, ok, err := st.State(context.Background(), store.Coordinate{
		IntegrationKind: "git",
		RemoteID:        "https://example.com/repo.git",
		ReferenceID:     "branch:main@abc123",
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc123", string(state))

	cancel()
	<-done
}

func TestHousekeepingDeletesDisabledBranchStates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	coord := store.Coordinate{IntegrationKind: "git", RemoteID: "r", ReferenceID: "branch:main@abc"}
	require.NoError(t, st.SetState(ctx, coord, []byte("abc"), true))

	integration := testIntegration()
	integration.Remote = "r"
	integration.ImportBranches = config.ImportMode{Enabled: false}

	require.NoError(t, Housekeeping(ctx, integration, st))

	_, ok, err := st.State(ctx, coord)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatchesImportModeRespectsWatchedList(t *testing.T) {
	disabled := config.ImportMode{Enabled: false}
	assert.False(t, matchesImportMode(disabled, "main"))

	allEnabled := config.ImportMode{Enabled: true}
	assert.True(t, matchesImportMode(allEnabled, "anything"))

	watched := config.ImportMode{Enabled: true, Watched: []string{"main", "release"}}
	assert.True(t, matchesImportMode(watched, "main"))
	assert.False(t, matchesImportMode(watched, "feature-x"))
}
