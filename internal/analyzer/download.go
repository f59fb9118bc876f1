package analyzer

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// download GETs the "latest release" landing URL, follows redirects,
// extracts the version tag from the final URL, builds the
// platform-specific archive URL, downloads it, and unzips the analyzer
// binary into <data-root>/<binary>.
func (m *Manager) download(ctx context.Context) (string, error) {
	version, err := m.latestVersion(ctx)
	if err != nil {
		return "", fmt.Errorf("analyzer: failed to resolve latest version: %w", err)
	}

	archiveURL, err := m.archiveURL(version)
	if err != nil {
		return "", err
	}

	m.logger.Info("downloading analyzer", zap.String("version", version), zap.String("url", archiveURL))

	archivePath, err := m.downloadArchive(ctx, archiveURL)
	if err != nil {
		return "", fmt.Errorf("analyzer: failed to download archive: %w", err)
	}
	defer os.Remove(archivePath)

	destPath := filepath.Join(m.dataRoot, m.binaryName)
	if err := extractBinary(archivePath, m.binaryName, destPath); err != nil {
		return "", fmt.Errorf("analyzer: failed to extract binary: %w", err)
	}
	return destPath, nil
}

// latestVersion GETs releaseURL, following redirects (the default
// http.Client behavior), and reads the version tag off the last path
// component of the final response URL — which must start with "v".
func (m *Manager) latestVersion(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.releaseURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return "", fmt.Errorf("unexpected status %d resolving latest release", resp.StatusCode)
	}

	finalURL := resp.Request.URL.String()
	tag := path.Base(finalURL)
	if !strings.HasPrefix(tag, "v") {
		return "", fmt.Errorf("latest release tag %q does not start with %q", tag, "v")
	}
	return tag, nil
}

// archiveURL builds the platform-specific download URL for the given
// version, supporting linux/darwin/windows on amd64.
func (m *Manager) archiveURL(version string) (string, error) {
	goos := runtime.GOOS
	switch goos {
	case "linux", "darwin", "windows":
	default:
		return "", fmt.Errorf("analyzer: unsupported OS %q", goos)
	}

	return fmt.Sprintf("%s/download/%s/%s_%s_amd64.zip",
		strings.TrimSuffix(m.releaseURL, "/"), version, m.binaryName, goos), nil
}

func (m *Manager) downloadArchive(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d downloading archive", resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", m.binaryName+"-archive-*")
	if err != nil {
		return "", err
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// extractBinary unzips the entry named entryName from the zip archive at
// archivePath to destPath, atomically (write-then-rename, following the
// teacher's extractor.extract idiom) and sets the executable bit on unix.
func extractBinary(archivePath, entryName, destPath string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	var entry *zip.File
	for _, f := range r.File {
		if path.Base(f.Name) == entryName || path.Base(f.Name) == entryName+".exe" {
			entry = f
			break
		}
	}
	if entry == nil {
		return fmt.Errorf("archive does not contain an entry named %q", entryName)
	}

	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("failed to open archive entry: %w", err)
	}
	defer src.Close()

	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create data root: %w", err)
	}

	tmp, err := os.CreateTemp(dir, entryName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write binary: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0o770); err != nil {
			return fmt.Errorf("failed to set executable permission: %w", err)
		}
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to move binary into place: %w", err)
	}
	ok = true
	return nil
}
