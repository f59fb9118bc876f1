package transport

import "errors"

// Remote identifies a remote repository location. It is deliberately not
// constrained to be a URL — different hosts use different addressing
// conventions (scp-like ssh, bare paths, etc.) — only required to be
// non-empty.
type Remote string

// ErrRemoteEmpty is returned when a Remote is constructed from an empty
// string.
var ErrRemoteEmpty = errors.New("transport: remote must not be empty")

// NewRemote validates and wraps s.
func NewRemote(s string) (Remote, error) {
	if s == "" {
		return "", ErrRemoteEmpty
	}
	return Remote(s), nil
}
