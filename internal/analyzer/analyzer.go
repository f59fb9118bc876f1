// Package analyzer manages the lifecycle of the external dependency-analysis
// binary: locating it, downloading it if absent, and invoking it against a
// cloned working tree. Uses a stat-first, write-to-temp-then-atomic-rename
// idiom for binary management, and a fully-captured-stdout/line-streamed-
// stderr shape for subprocess invocation.
package analyzer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Manager locates, downloads, and invokes the analyzer binary.
type Manager struct {
	dataRoot   string
	binaryName string
	releaseURL string
	httpClient *http.Client
	logger     *zap.Logger
}

// Config configures a Manager.
type Config struct {
	// DataRoot is the broker's persistent data directory; the analyzer
	// binary is downloaded to <DataRoot>/<BinaryName> if not found
	// elsewhere.
	DataRoot string
	// BinaryName is the analyzer executable's name, e.g. "fossa".
	BinaryName string
	// ReleaseURL is the service's "latest release" landing URL; GET-ing it
	// follows redirects to a URL whose final path component is the
	// version tag.
	ReleaseURL string
	Logger     *zap.Logger
	HTTPClient *http.Client
}

// New returns a Manager. HTTPClient defaults to http.DefaultClient.
func New(cfg Config) *Manager {
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &Manager{
		dataRoot:   cfg.DataRoot,
		binaryName: cfg.BinaryName,
		releaseURL: cfg.ReleaseURL,
		httpClient: client,
		logger:     cfg.Logger.Named("analyzer"),
	}
}

// Locate finds the analyzer binary by (a) <data-root>/<binary>, (b) PATH,
// (c) download — in that order.
func (m *Manager) Locate(ctx context.Context) (string, error) {
	dataRootPath := filepath.Join(m.dataRoot, m.binaryName)
	if info, err := os.Stat(dataRootPath); err == nil && !info.IsDir() {
		return dataRootPath, nil
	}

	if pathBin, err := exec.LookPath(m.binaryName); err == nil {
		return pathBin, nil
	}

	return m.download(ctx)
}

// Version runs "<binary> --version" and returns its stdout.
func (m *Manager) Version(ctx context.Context, binaryPath string) (string, error) {
	cmd := exec.CommandContext(ctx, binaryPath, "--version")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("analyzer: failed to read version: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Result is the opaque payload extracted from the analyzer's stdout.
type Result struct {
	SourceUnits json.RawMessage `json:"sourceUnits"`
}

// Analyze spawns "<binary> analyze --debug --output <projectDir>" with its
// working directory set to a fresh temp directory (so the analyzer's own
// debug bundle lands there, not in the project tree). stdout is captured in
// full and parsed as JSON; stderr is streamed line-by-line into the trace
// log. The child is killed if ctx is cancelled.
func (m *Manager) Analyze(ctx context.Context, binaryPath, projectDir string) (json.RawMessage, error) {
	cwd, err := os.MkdirTemp("", "broker-analyze-*")
	if err != nil {
		return nil, fmt.Errorf("analyzer: failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(cwd)

	cmd := exec.CommandContext(ctx, binaryPath, "analyze", "--debug", "--output", projectDir)
	cmd.Dir = cwd
	cmd.Cancel = func() error { return cmd.Process.Kill() }

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("analyzer: failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("analyzer: failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("analyzer: failed to start: %w", err)
	}

	var stderrTail strings.Builder
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := scanner.Text()
			m.logger.Debug("analyzer", zap.String("stderr", line))
			stderrTail.Reset()
			stderrTail.WriteString(line)
		}
	}()

	var stdoutBuf bytes.Buffer
	if _, err := io.Copy(&stdoutBuf, stdout); err != nil {
		return nil, fmt.Errorf("analyzer: failed to read stdout: %w", err)
	}
	<-stderrDone

	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("analyzer: command failed: %w\nstderr: %s", err, stderrTail.String())
	}

	var result Result
	if err := json.Unmarshal(stdoutBuf.Bytes(), &result); err != nil {
		return nil, fmt.Errorf("analyzer: failed to parse analyzer output: %w", err)
	}
	return result.SourceUnits, nil
}
